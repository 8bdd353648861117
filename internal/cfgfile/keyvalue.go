package cfgfile

import (
	"os"
	"regexp"
	"strings"
)

var assignment = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// KeyValue is a shell-style assignment file. Values are written double
// quoted.
type KeyValue struct {
	path  string
	mode  os.FileMode
	lines []string
}

// LoadKeyValue reads path. A missing file loads empty.
func LoadKeyValue(path string) (*KeyValue, error) {
	lines, mode, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return &KeyValue{path: path, mode: mode, lines: lines}, nil
}

func (k *KeyValue) find(key string) int {
	for i, line := range k.lines {
		if m := assignment.FindStringSubmatch(line); m != nil && m[1] == key {
			return i
		}
	}
	return -1
}

// Get returns the unquoted value of key.
func (k *KeyValue) Get(key string) (string, bool) {
	i := k.find(key)
	if i < 0 {
		return "", false
	}
	m := assignment.FindStringSubmatch(k.lines[i])
	return unquote(m[2]), true
}

// Set replaces the first assignment of key, or appends one.
func (k *KeyValue) Set(key, value string) {
	line := key + "=" + quote(value)
	if i := k.find(key); i >= 0 {
		k.lines[i] = line
		return
	}
	k.lines = append(k.lines, line)
}

// Keys returns the assigned keys in file order.
func (k *KeyValue) Keys() []string {
	var keys []string
	for _, line := range k.lines {
		if m := assignment.FindStringSubmatch(line); m != nil {
			keys = append(keys, m[1])
		}
	}
	return keys
}

// Save writes the file back, keeping the original file mode.
func (k *KeyValue) Save() error {
	return writeLines(k.path, k.lines, k.mode)
}

// quote leaves $ alone so values can reference other variables.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	switch q := raw[0]; q {
	case '\'', '"':
		for i := 1; i < len(raw); i++ {
			if q == '"' && raw[i] == '\\' {
				i++
				continue
			}
			if raw[i] == q {
				v := raw[1:i]
				if q == '"' {
					v = strings.ReplaceAll(v, `\"`, `"`)
				}
				return v
			}
		}
		// Unterminated: take the rest verbatim.
		return raw[1:]
	}

	// Unquoted values end at a trailing comment.
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw
}
