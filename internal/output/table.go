package output

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/provision"
	"github.com/jbweber/kiln/internal/size"
)

// TableFormatter formats results as aligned text.
type TableFormatter struct {
	// NoHeaders omits the header rows of tables.
	NoHeaders bool

	now func() time.Time
}

func (f *TableFormatter) since(t time.Time) time.Duration {
	if f.now != nil {
		return f.now().Sub(t)
	}
	return time.Since(t)
}

// FormatResult writes the domain summary, then the actions and the storage
// units. The root password, when set, comes last so it is easy to find.
func (f *TableFormatter) FormatResult(res *provision.Result) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	phase := "-"
	if res.Report != nil {
		phase = string(res.Report.Phase)
	}
	_, _ = fmt.Fprintf(w, "Domain:\t%s (%s)\n", res.Name, res.FQDN)
	_, _ = fmt.Fprintf(w, "Phase:\t%s\n", phase)
	_, _ = fmt.Fprintf(w, "MAC:\t%s\n", res.MAC)
	_, _ = fmt.Fprintf(w, "UUID:\t%s\n", res.UUID)
	_, _ = fmt.Fprintf(w, "Config:\t%s\n", res.ConfigPath)
	if res.XMLPath != "" {
		_, _ = fmt.Fprintf(w, "XML:\t%s\n", res.XMLPath)
	}
	_ = w.Flush()

	if res.Report != nil && len(res.Report.Actions) > 0 {
		buf.WriteString("\n")
		w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		if !f.NoHeaders {
			_, _ = fmt.Fprintln(w, "ACTION\tPHASE\tMESSAGE")
		}
		for _, a := range res.Report.Actions {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.Phase, dash(a.Message))
		}
		_ = w.Flush()
	}

	if len(res.Units) > 0 {
		buf.WriteString("\n")
		w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		if !f.NoHeaders {
			_, _ = fmt.Fprintln(w, "UNIT\tKIND\tDEVICE\tGUEST\tFILESYSTEM\tMOUNT\tSIZE")
		}
		for _, u := range res.Units {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				u.Name, u.Kind, u.Device, u.GuestDevice, u.Filesystem, dash(u.Mount), u.Size)
		}
		_ = w.Flush()
	}

	if res.RootPassword != "" {
		_, _ = fmt.Fprintf(&buf, "\nRoot password: %s\n", res.RootPassword)
	}

	return buf.String(), nil
}

// FormatCache formats the cache listing as a table.
func (f *TableFormatter) FormatCache(entries []metadata.Entry) (string, error) {
	if len(entries) == 0 {
		return "No cached downloads\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "FILE\tSIZE\tAGE\tURL")
	}
	for _, e := range entries {
		age, url := "-", "-"
		if e.Record != nil {
			url = e.Record.URL
			if !e.Record.FetchedAt.IsZero() {
				age = formatAge(f.since(e.Record.FetchedAt))
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", filepath.Base(e.File), size.Size(e.Size), age, url)
	}

	_ = w.Flush()
	return buf.String(), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a short age: "5s", "2m", "3h", "4d",
// "2w" or "1y".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}
	// Weeks up to two months, then years.
	if weeks := days / 7; weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}
	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
