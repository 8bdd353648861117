package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/provision"
)

// JSONFormatter formats results as indented JSON.
type JSONFormatter struct{}

// FormatResult formats a run result as a JSON object.
func (f *JSONFormatter) FormatResult(res *provision.Result) (string, error) {
	return encodeJSON(res, "result")
}

// FormatCache formats the cache listing as a JSON array.
func (f *JSONFormatter) FormatCache(entries []metadata.Entry) (string, error) {
	if len(entries) == 0 {
		return "[]\n", nil
	}
	return encodeJSON(entries, "cache listing")
}

func encodeJSON(v any, what string) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return buf.String(), nil
}
