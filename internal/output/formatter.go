// Package output renders run results and cache listings for the terminal
// (table) or for machines (YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/provision"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable summary.
	FormatTable Format = "table"
	// FormatYAML is a YAML document.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON document for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats kiln results.
type Formatter interface {
	// FormatResult formats the outcome of a provisioning run.
	FormatResult(res *provision.Result) (string, error)

	// FormatCache formats the contents of the download cache.
	FormatCache(entries []metadata.Entry) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a Formatter for opts.Format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
