// Package loader reads layered YAML configuration.
//
// Each layer is decoded strictly (unknown keys are an error) into the same
// destination value, so a later layer overrides exactly the fields it sets:
// nested mappings merge, scalars and sequences are replaced.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Layer is one configuration source.
type Layer struct {
	// Name identifies the layer in errors, usually its path.
	Name string
	// Path is read when Data is nil.
	Path string
	Data []byte
	// Optional layers whose file does not exist are skipped.
	Optional bool
}

// FileLayer returns a layer read from path.
func FileLayer(path string, optional bool) Layer {
	return Layer{Name: path, Path: path, Optional: optional}
}

// DataLayer returns an in-memory layer.
func DataLayer(name string, data []byte) Layer {
	return Layer{Name: name, Data: data}
}

// Load decodes every layer in order into out and returns the names of the
// layers that were applied.
func Load(out any, layers ...Layer) ([]string, error) {
	var applied []string

	for _, layer := range layers {
		data := layer.Data
		if data == nil {
			var err error
			data, err = os.ReadFile(layer.Path)
			if err != nil {
				if layer.Optional && errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return applied, fmt.Errorf("failed to read file %s: %w", layer.Path, err)
			}
		}

		if err := DecodeStrict(data, out); err != nil {
			return applied, fmt.Errorf("failed to parse %s: %w", layer.Name, err)
		}
		applied = append(applied, layer.Name)
	}

	return applied, nil
}

// DecodeStrict decodes a single YAML document into out, rejecting keys that
// have no matching field. An empty document leaves out untouched.
func DecodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// SaveToFile writes v as YAML to path.
func SaveToFile(v any, path string, perm os.FileMode) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}
