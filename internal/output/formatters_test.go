package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/size"
	"github.com/jbweber/kiln/internal/status"
)

// createTestResult returns the result of a finished run.
func createTestResult(password string) *provision.Result {
	report := status.NewReport([]string{"CheckConfig", "CreateStorage", "WriteDomainConfig"})
	report.Phase = status.PhaseDone
	for _, a := range report.Actions {
		status.SetAction(report, a.Name, status.ActionSucceeded, "")
	}

	return &provision.Result{
		Report:       report,
		Name:         "web01",
		FQDN:         "web01.example.com",
		MAC:          "00:16:3e:12:34:56",
		UUID:         "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		RootPassword: password,
		ConfigPath:   "/etc/xen/web01.cfg",
		Units: []provision.UnitSummary{
			{
				Name:        "web01-root",
				Kind:        "lvm",
				Device:      "/dev/vg0/web01-root",
				GuestDevice: "/dev/xvda1",
				Filesystem:  "ext4",
				Mount:       "/",
				Size:        size.MustParse("2G"),
			},
			{
				Name:        "web01-swap",
				Kind:        "lvm",
				Device:      "/dev/vg0/web01-swap",
				GuestDevice: "/dev/xvda2",
				Filesystem:  "swap",
				Size:        size.MustParse("1G"),
			},
		},
	}
}

func TestTableFormatter_FormatResult(t *testing.T) {
	tests := []struct {
		name        string
		noHeaders   bool
		password    string
		wantContain []string
		wantAbsent  []string
	}{
		{
			name:     "with headers and password",
			password: "s3cretPassw0rdAbcdef",
			wantContain: []string{
				"web01 (web01.example.com)",
				"00:16:3e:12:34:56",
				"ACTION",
				"CreateStorage",
				"Succeeded",
				"UNIT",
				"/dev/vg0/web01-root",
				"2G",
			},
		},
		{
			name:        "no headers without password",
			noHeaders:   true,
			wantContain: []string{"web01-swap", "/etc/xen/web01.cfg"},
			wantAbsent:  []string{"ACTION", "UNIT", "Root password"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			out, err := formatter.FormatResult(createTestResult(tt.password))
			if err != nil {
				t.Fatalf("FormatResult() error = %v", err)
			}

			for _, want := range tt.wantContain {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(out, absent) {
					t.Errorf("output should not contain %q:\n%s", absent, out)
				}
			}
			if tt.password != "" && !strings.HasSuffix(out, "Root password: "+tt.password+"\n") {
				t.Errorf("password should be the last line:\n%s", out)
			}
		})
	}
}

func TestTableFormatter_FormatResultVetoed(t *testing.T) {
	res := createTestResult("")
	res.Report = status.NewReport([]string{"CheckConfig", "CreateStorage"})
	if err := status.TransitionToTesting(res.Report); err != nil {
		t.Fatal(err)
	}
	if err := status.TransitionToAborted(res.Report, "CreateStorage", "storage web01-root exists"); err != nil {
		t.Fatal(err)
	}

	out, err := (&TableFormatter{}).FormatResult(res)
	if err != nil {
		t.Fatalf("FormatResult() error = %v", err)
	}
	for _, want := range []string{"Aborted", "Vetoed", "storage web01-root exists", "Skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableFormatter_FormatCache(t *testing.T) {
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	entries := []metadata.Entry{
		{
			File: "/var/cache/kiln/portage-latest.tar.xz",
			Size: size.MustParse("3M").Bytes(),
			Record: &metadata.Record{
				URL:       "http://mirror.example.com/gentoo/snapshots/portage-latest.tar.xz",
				FetchedAt: now.Add(-2 * time.Hour),
			},
		},
		{
			File: "/var/cache/kiln/stray.tar",
			Size: 10,
		},
	}

	formatter := &TableFormatter{now: func() time.Time { return now }}
	out, err := formatter.FormatCache(entries)
	if err != nil {
		t.Fatalf("FormatCache() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "FILE") {
		t.Errorf("header = %q", lines[0])
	}
	if fields := strings.Fields(lines[1]); len(fields) != 4 || fields[0] != "portage-latest.tar.xz" || fields[1] != "3M" || fields[2] != "2h" {
		t.Errorf("row = %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); len(fields) != 4 || fields[2] != "-" || fields[3] != "-" {
		t.Errorf("row without record = %q", lines[2])
	}
}

func TestFormatCache_Empty(t *testing.T) {
	tests := []struct {
		name      string
		formatter Formatter
		want      string
	}{
		{"table", &TableFormatter{}, "No cached downloads\n"},
		{"yaml", &YAMLFormatter{}, "[]\n"},
		{"json", &JSONFormatter{}, "[]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.formatter.FormatCache(nil)
			if err != nil {
				t.Fatalf("FormatCache() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatCache() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestYAMLFormatter_FormatResult(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatResult(createTestResult(""))
	if err != nil {
		t.Fatalf("FormatResult() error = %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, out)
	}
	if got["name"] != "web01" {
		t.Errorf("name = %v, want web01", got["name"])
	}
	if _, ok := got["rootPassword"]; ok {
		t.Error("empty rootPassword should be omitted")
	}
	units, ok := got["units"].([]any)
	if !ok || len(units) != 2 {
		t.Fatalf("units = %v", got["units"])
	}
	if sz := units[0].(map[string]any)["size"]; sz != "2G" {
		t.Errorf("units[0].size = %v, want 2G", sz)
	}
	report := got["report"].(map[string]any)
	if report["phase"] != "Done" {
		t.Errorf("report.phase = %v, want Done", report["phase"])
	}
}

func TestJSONFormatter_FormatResult(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatResult(createTestResult("s3cretPassw0rdAbcdef"))
	if err != nil {
		t.Fatalf("FormatResult() error = %v", err)
	}

	var got struct {
		Name         string `json:"name"`
		RootPassword string `json:"rootPassword"`
		Report       struct {
			Phase   string `json:"phase"`
			Actions []struct {
				Name  string `json:"name"`
				Phase string `json:"phase"`
			} `json:"actions"`
		} `json:"report"`
		Units []struct {
			GuestDevice string `json:"guestDevice"`
			Size        int64  `json:"size"`
		} `json:"units"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}

	if got.Name != "web01" || got.RootPassword != "s3cretPassw0rdAbcdef" {
		t.Errorf("name/password = %q/%q", got.Name, got.RootPassword)
	}
	if got.Report.Phase != "Done" || len(got.Report.Actions) != 3 {
		t.Errorf("report = %+v", got.Report)
	}
	if len(got.Units) != 2 || got.Units[0].GuestDevice != "/dev/xvda1" || got.Units[0].Size != size.MustParse("2G").Bytes() {
		t.Errorf("units = %+v", got.Units)
	}
}

func TestJSONFormatter_FormatCache(t *testing.T) {
	entries := []metadata.Entry{{File: "/var/cache/kiln/a.tar.xz", Size: 5}}

	out, err := (&JSONFormatter{}).FormatCache(entries)
	if err != nil {
		t.Fatalf("FormatCache() error = %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(got) != 1 || got[0]["file"] != "/var/cache/kiln/a.tar.xz" {
		t.Errorf("got %v", got)
	}
	if _, ok := got[0]["record"]; ok {
		t.Error("missing record should be omitted")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{name: "table", format: "table"},
		{name: "yaml", format: "yaml"},
		{name: "json", format: "json"},
		{name: "xml", format: "xml", wantErr: true},
		{name: "empty", format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"negative", -time.Second, "unknown"},
		{"seconds", 42 * time.Second, "42s"},
		{"minutes", 150 * time.Second, "2m"},
		{"hours", 200 * time.Minute, "3h"},
		{"days", 80 * time.Hour, "3d"},
		{"weeks", 21 * 24 * time.Hour, "3w"},
		{"two months", 60 * 24 * time.Hour, "60d"},
		{"years", 800 * 24 * time.Hour, "2y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAge(tt.duration); got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
