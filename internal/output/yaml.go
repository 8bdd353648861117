package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/provision"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatResult formats a run result as a single YAML document.
func (f *YAMLFormatter) FormatResult(res *provision.Result) (string, error) {
	data, err := yaml.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result to YAML: %w", err)
	}
	return string(data), nil
}

// FormatCache formats the cache listing as a YAML sequence.
func (f *YAMLFormatter) FormatCache(entries []metadata.Entry) (string, error) {
	if len(entries) == 0 {
		return "[]\n", nil
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache listing to YAML: %w", err)
	}
	return string(data), nil
}
