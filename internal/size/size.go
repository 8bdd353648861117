// Package size parses and formats human-readable byte sizes such as "10G".
//
// Units are binary (1k = 1024 bytes) and case-insensitive. Formatting picks the
// largest unit that divides the value exactly, so Parse(s.String()) == s.
package size

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a byte count.
type Size int64

// Common sizes.
const (
	Byte     Size = 1
	Kilobyte      = 1024 * Byte
	Megabyte      = 1024 * Kilobyte
	Gigabyte      = 1024 * Megabyte
	Terabyte      = 1024 * Gigabyte
)

var sizePattern = regexp.MustCompile(`(?i)^(\d+)\s*([kmgt]?)$`)

// units is ordered largest first for String.
var units = []struct {
	suffix string
	size   Size
}{
	{"T", Terabyte},
	{"G", Gigabyte},
	{"M", Megabyte},
	{"K", Kilobyte},
}

// Parse parses s. A bare integer is a byte count.
func Parse(s string) (Size, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	mult := Byte
	for _, u := range units {
		if strings.EqualFold(m[2], u.suffix) {
			mult = u.size
			break
		}
	}

	if mult > 1 && n > int64((1<<63-1)/mult) {
		return 0, fmt.Errorf("size %q overflows", s)
	}

	return Size(n) * mult, nil
}

// MustParse is like Parse but panics on error. For constants and tests.
func MustParse(s string) Size {
	sz, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sz
}

// Bytes returns the byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String formats s with the largest exact unit.
func (s Size) String() string {
	if s == 0 {
		return "0"
	}
	for _, u := range units {
		if s%u.size == 0 {
			return fmt.Sprintf("%d%s", s/u.size, u.suffix)
		}
	}
	return strconv.FormatInt(int64(s), 10)
}

// UnmarshalYAML accepts "10G" style strings and plain integers.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	sz, err := Parse(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = sz
	return nil
}

// MarshalYAML writes the String form.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
