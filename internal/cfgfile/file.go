package cfgfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultPermissions are used when Save creates a file.
const DefaultPermissions = 0644

func readLines(path string) ([]string, os.FileMode, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, DefaultPermissions, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mode := os.FileMode(DefaultPermissions)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, mode, nil
	}
	return strings.Split(text, "\n"), mode, nil
}

func writeLines(path string, lines []string, mode os.FileMode) error {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Lines is a file handled as a list of lines.
type Lines struct {
	path  string
	mode  os.FileMode
	lines []string
}

// LoadLines reads path. A missing file loads empty.
func LoadLines(path string) (*Lines, error) {
	lines, mode, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return &Lines{path: path, mode: mode, lines: lines}, nil
}

// Lines returns a copy of the current lines.
func (l *Lines) Lines() []string {
	return append([]string(nil), l.lines...)
}

// Contains reports whether line is present, ignoring surrounding whitespace.
func (l *Lines) Contains(line string) bool {
	want := strings.TrimSpace(line)
	for _, existing := range l.lines {
		if strings.TrimSpace(existing) == want {
			return true
		}
	}
	return false
}

// Append adds line at the end.
func (l *Lines) Append(line string) {
	l.lines = append(l.lines, line)
}

// AppendMissing adds line unless it is already present.
func (l *Lines) AppendMissing(line string) bool {
	if l.Contains(line) {
		return false
	}
	l.Append(line)
	return true
}

// Replace substitutes every line for which match returns true and reports
// how many lines were replaced.
func (l *Lines) Replace(match func(string) bool, line string) int {
	n := 0
	for i, existing := range l.lines {
		if match(existing) {
			l.lines[i] = line
			n++
		}
	}
	return n
}

// Remove drops every line for which match returns true.
func (l *Lines) Remove(match func(string) bool) int {
	kept := l.lines[:0]
	n := 0
	for _, existing := range l.lines {
		if match(existing) {
			n++
			continue
		}
		kept = append(kept, existing)
	}
	l.lines = kept
	return n
}

// Save writes the lines back, keeping the original file mode.
func (l *Lines) Save() error {
	return writeLines(l.path, l.lines, l.mode)
}

// HasFields returns a matcher for lines whose first field equals first.
// Comment lines never match.
func HasFields(first string) func(string) bool {
	return func(line string) bool {
		fields := strings.Fields(line)
		return len(fields) > 0 && !strings.HasPrefix(fields[0], "#") && fields[0] == first
	}
}
