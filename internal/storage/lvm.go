package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/execx"
)

// LVM is a logical volume in a volume group.
type LVM struct {
	base
	runner execx.Runner
	log    logrus.FieldLogger
}

func (l *LVM) Kind() Kind    { return KindLVM }
func (l *LVM) IsBlock() bool { return true }

// Device returns /dev/{vg}/{name}.
func (l *LVM) Device() string {
	return filepath.Join(l.spec.DevDir, l.spec.VolumeGroup, l.spec.Name)
}

// Exists reports whether the device node is present.
func (l *LVM) Exists() (bool, error) {
	_, err := os.Lstat(l.Device())
	switch {
	case err == nil:
		l.log.WithField("device", l.Device()).Errorf("Device %s exists", l.Device())
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		l.log.Debugf("Does not exist: %s", l.Device())
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", l.Device(), err)
	}
}

// Create runs lvcreate with the exact byte size.
func (l *LVM) Create(ctx context.Context) error {
	l.log.Infof("Creating the LV '%s' with %s on volume group %s", l.spec.Name, l.spec.Size, l.spec.VolumeGroup)

	_, err := l.runner.Run(ctx, "lvcreate",
		"-L", fmt.Sprintf("%db", l.spec.Size.Bytes()),
		"-n", l.spec.Name,
		l.spec.VolumeGroup,
	)
	if err != nil {
		return fmt.Errorf("failed to create logical volume %s: %w", l.spec.Name, err)
	}
	return nil
}

// Format creates the filesystem or swap signature on the volume.
func (l *LVM) Format(ctx context.Context) error {
	return formatDevice(ctx, l.runner, l.log, l.Device(), l.spec.Filesystem, l.spec.FormatOptions)
}
