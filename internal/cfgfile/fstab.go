package cfgfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FstabEntry is one mount table line.
type FstabEntry struct {
	Device     string
	Mountpoint string
	Type       string
	Options    string
	Dump       int
	Pass       int
}

// String renders the entry as an fstab line.
func (e FstabEntry) String() string {
	opts := e.Options
	if opts == "" {
		opts = "defaults"
	}
	return fmt.Sprintf("%s\t\t%s\t\t%s\t\t%s\t%d %d", e.Device, e.Mountpoint, e.Type, opts, e.Dump, e.Pass)
}

func parseFstabEntry(line string) (FstabEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || strings.HasPrefix(fields[0], "#") {
		return FstabEntry{}, false
	}

	e := FstabEntry{Device: fields[0], Mountpoint: fields[1], Type: fields[2], Options: "defaults"}
	if len(fields) > 3 {
		e.Options = fields[3]
	}
	if len(fields) > 4 {
		e.Dump, _ = strconv.Atoi(fields[4])
	}
	if len(fields) > 5 {
		e.Pass, _ = strconv.Atoi(fields[5])
	}
	return e, true
}

// Fstab is an /etc/fstab file.
type Fstab struct {
	path  string
	mode  os.FileMode
	lines []string
}

// LoadFstab reads path. A missing file loads empty.
func LoadFstab(path string) (*Fstab, error) {
	lines, mode, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return &Fstab{path: path, mode: mode, lines: lines}, nil
}

// Entries returns the parsed entries in file order.
func (f *Fstab) Entries() []FstabEntry {
	var entries []FstabEntry
	for _, line := range f.lines {
		if e, ok := parseFstabEntry(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Get returns the entry for device.
func (f *Fstab) Get(device string) (FstabEntry, bool) {
	for _, line := range f.lines {
		if e, ok := parseFstabEntry(line); ok && e.Device == device {
			return e, true
		}
	}
	return FstabEntry{}, false
}

// Remove drops every entry for device.
func (f *Fstab) Remove(device string) int {
	kept := f.lines[:0]
	n := 0
	for _, line := range f.lines {
		if e, ok := parseFstabEntry(line); ok && e.Device == device {
			n++
			continue
		}
		kept = append(kept, line)
	}
	f.lines = kept
	return n
}

// Update rewrites the entries for device with fn. It reports whether any
// entry matched.
func (f *Fstab) Update(device string, fn func(*FstabEntry)) bool {
	found := false
	for i, line := range f.lines {
		e, ok := parseFstabEntry(line)
		if !ok || e.Device != device {
			continue
		}
		fn(&e)
		f.lines[i] = e.String()
		found = true
	}
	return found
}

// Add appends e.
func (f *Fstab) Add(e FstabEntry) {
	f.lines = append(f.lines, e.String())
}

// Save writes the table back, keeping the original file mode.
func (f *Fstab) Save() error {
	return writeLines(f.path, f.lines, f.mode)
}
