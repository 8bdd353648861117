package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DirPermissions are the permissions of created directory units.
const DirPermissions = 0700

// Directory is a host directory bind mounted as guest storage.
type Directory struct {
	base
	log logrus.FieldLogger
}

func (d *Directory) Kind() Kind    { return KindDirectory }
func (d *Directory) IsBlock() bool { return false }

// Device returns {base_dir}/{name}.
func (d *Directory) Device() string {
	return filepath.Join(d.spec.BaseDir, d.spec.Name)
}

// Exists reports whether the directory is present and non-empty. An empty
// directory is reused.
func (d *Directory) Exists() (bool, error) {
	f, err := os.Open(d.Device())
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", d.Device(), err)
	}
	defer func() { _ = f.Close() }()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", d.Device(), err)
	}

	d.log.WithField("device", d.Device()).Errorf("%s exists and is not empty", d.Device())
	return true, nil
}

// Create makes the directory, including parents.
func (d *Directory) Create(_ context.Context) error {
	d.log.Infof("Creating directory %s", d.Device())
	if err := os.MkdirAll(d.Device(), DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.Device(), err)
	}
	// An existing empty directory keeps its mode under MkdirAll.
	if err := os.Chmod(d.Device(), DirPermissions); err != nil {
		return fmt.Errorf("failed to chmod directory %s: %w", d.Device(), err)
	}
	return nil
}

// Format is a no-op for directories.
func (d *Directory) Format(_ context.Context) error {
	return nil
}
