package storage

import (
	"context"
	"strings"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/size"
)

// Kind is the storage backend of a unit.
type Kind string

const (
	KindLVM       Kind = "lvm"        // LVM logical volume
	KindDirectory Kind = "filesystem" // Host directory
)

// SwapFilesystem is the filesystem name of swap units. Swap is never mounted.
const SwapFilesystem = "swap"

// DefaultDevDir is where LVM exposes volume group device nodes.
const DefaultDevDir = "/dev"

// Spec describes one storage unit.
type Spec struct {
	Name          string    // Volume or directory name (e.g., "web01-root")
	Size          size.Size // Capacity; ignored by directory units
	Filesystem    string    // ext4, xfs, swap, ...
	Mount         string    // Guest mount point; empty for swap
	GuestDevice   string    // Device the guest sees (e.g., "/dev/xvda1")
	FormatOptions string    // Extra mkfs arguments, shell quoted
	VolumeGroup   string    // lvm only
	BaseDir       string    // filesystem only
	DevDir        string    // lvm only; defaults to DefaultDevDir
}

// Validate checks the fields common to every kind.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errdefs.ConfigInvalid("storage unit name is required")
	}
	if strings.ContainsRune(s.Name, '/') {
		return errdefs.ConfigInvalid("storage unit name %q must not contain '/'", s.Name)
	}
	if s.Filesystem == "" {
		return errdefs.ConfigInvalid("storage unit %s: filesystem is required", s.Name)
	}
	if s.GuestDevice == "" {
		return errdefs.ConfigInvalid("storage unit %s: guest device is required", s.Name)
	}
	if s.Filesystem == SwapFilesystem && s.Mount != "" {
		return errdefs.ConfigInvalid("storage unit %s: swap cannot be mounted at %s", s.Name, s.Mount)
	}
	if s.Mount != "" && !strings.HasPrefix(s.Mount, "/") {
		return errdefs.ConfigInvalid("storage unit %s: mount point %q must be absolute", s.Name, s.Mount)
	}
	return nil
}

// Unit is an allocatable piece of guest storage.
type Unit interface {
	Kind() Kind
	Name() string
	// Device is the host path: a block device node or a directory.
	Device() string
	GuestDevice() string
	Filesystem() string
	// Mountpoint is the guest mount point, empty when the unit is not mounted.
	Mountpoint() string
	Size() size.Size
	IsBlock() bool

	Exists() (bool, error)
	Create(ctx context.Context) error
	Format(ctx context.Context) error
}

// base holds the accessors shared by every kind.
type base struct {
	spec Spec
}

func (b *base) Name() string        { return b.spec.Name }
func (b *base) GuestDevice() string { return b.spec.GuestDevice }
func (b *base) Filesystem() string  { return b.spec.Filesystem }
func (b *base) Mountpoint() string  { return b.spec.Mount }
func (b *base) Size() size.Size     { return b.spec.Size }

// IsRoot reports whether u is mounted at the guest root.
func IsRoot(u Unit) bool {
	return u.Mountpoint() == "/"
}

// IsSwap reports whether u is a swap unit.
func IsSwap(u Unit) bool {
	return u.Filesystem() == SwapFilesystem
}
