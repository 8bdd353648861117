package size

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Size
		wantErr bool
	}{
		{name: "bytes", input: "512", want: 512},
		{name: "kilobytes", input: "1k", want: 1024},
		{name: "uppercase", input: "2G", want: 2 * Gigabyte},
		{name: "space before unit", input: "10 m", want: 10 * Megabyte},
		{name: "surrounding whitespace", input: "  3T ", want: 3 * Terabyte},
		{name: "zero", input: "0", want: 0},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-1G", wantErr: true},
		{name: "unknown unit", input: "5P", wantErr: true},
		{name: "trailing junk", input: "5Gb", wantErr: true},
		{name: "fraction", input: "1.5G", wantErr: true},
		{name: "overflow", input: "99999999999T", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{0, "0"},
		{1, "1"},
		{1000, "1000"},
		{1024, "1K"},
		{1536 * Megabyte, "1536M"},
		{2 * Gigabyte, "2G"},
		{4 * Terabyte, "4T"},
		{Gigabyte + 1, "1073741825"},
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("Size(%d).String() = %q, want %q", int64(tt.size), got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{"0", "1", "1023", "1024", "1k", "1536m", "10G", "1t", "3000"}

	for _, in := range inputs {
		first := MustParse(in)
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("Parse(%q) of formatted %q: %v", first.String(), in, err)
		}
		if first != second {
			t.Errorf("round trip of %q: %d != %d", in, first, second)
		}
	}

	if MustParse("1024") != MustParse("1k") {
		t.Error("expected 1024 and 1k to be equal")
	}
}

func TestUnmarshalYAML(t *testing.T) {
	var doc struct {
		A Size `yaml:"a"`
		B Size `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 10G\nb: 4096\n"), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.A != 10*Gigabyte {
		t.Errorf("a = %d, want %d", doc.A, 10*Gigabyte)
	}
	if doc.B != 4*Kilobyte {
		t.Errorf("b = %d, want %d", doc.B, 4*Kilobyte)
	}

	if err := yaml.Unmarshal([]byte("a: lots\n"), &doc); err == nil {
		t.Error("expected error for invalid size")
	}
}
