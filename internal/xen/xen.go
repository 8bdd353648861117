// Package xen writes xl domain configuration files for provisioned guests.
//
// A Domain is built once from the resolved configuration and rendered in a
// fixed key order:
//
//	name = "web01"
//	uuid = "3f0c..."
//	kernel = "/boot/vmlinuz-xen"
//	extra = "console=hvc0"
//	vcpus = 2
//	memory = 1024
//	disk = [ 'phy:/dev/vg0/web01-root,xvda1,w' ]
//	root = "/dev/xvda1"
//	vif = [ 'mac=00:16:3e:12:34:56,bridge=br0' ]
package xen

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/naming"
)

// Disk maps a host device to the device the guest sees.
type Disk struct {
	Device      string // Host path
	GuestDevice string // e.g. "/dev/xvda1"
	Block       bool   // false for directory backed units
}

// Target returns the guest device name without /dev/.
func (d Disk) Target() string {
	return path.Base(d.GuestDevice)
}

// Domain is everything the hypervisor needs to start the guest.
type Domain struct {
	Name   string
	UUID   string
	Kernel string
	Extra  string
	VCPUs  int
	Memory int // MiB
	Disks  []Disk
	Root   string // Guest device of the root filesystem
	MAC    string
	Bridge string
}

// FromConfig builds the domain of a resolved configuration. Every storage
// unit becomes a disk, in declared order.
func FromConfig(cfg *config.Config) Domain {
	sys := cfg.System()
	d := Domain{
		Name:   cfg.Name(),
		UUID:   cfg.UUID(),
		Kernel: sys.Kernel,
		Extra:  sys.Extra,
		VCPUs:  sys.VCPU,
		Memory: sys.Memory,
		MAC:    cfg.MAC(),
		Bridge: cfg.Network().Bridge,
	}
	for _, u := range cfg.Storage() {
		d.Disks = append(d.Disks, Disk{Device: u.Device(), GuestDevice: u.GuestDevice(), Block: u.IsBlock()})
	}
	if root := cfg.RootUnit(); root != nil {
		d.Root = root.GuestDevice()
	}
	return d
}

// ConfigPath returns where the configuration of name lives in dir.
func ConfigPath(dir, name string) string {
	return filepath.Join(dir, naming.DomainConfigName(name))
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// Render returns the xl configuration text.
func Render(d Domain) string {
	var sb strings.Builder
	line := func(key, value string) {
		fmt.Fprintf(&sb, "%s = %s\n", key, value)
	}

	line("name", quote(d.Name))
	line("uuid", quote(d.UUID))
	line("kernel", quote(d.Kernel))
	if d.Extra != "" {
		line("extra", quote(d.Extra))
	}
	line("vcpus", fmt.Sprint(d.VCPUs))
	line("memory", fmt.Sprint(d.Memory))

	disks := make([]string, 0, len(d.Disks))
	for _, disk := range d.Disks {
		disks = append(disks, fmt.Sprintf("'phy:%s,%s,w'", disk.Device, disk.Target()))
	}
	line("disk", "[ "+strings.Join(disks, ", ")+" ]")
	line("root", quote(d.Root))
	line("vif", fmt.Sprintf("[ 'mac=%s,bridge=%s' ]", d.MAC, d.Bridge))

	return sb.String()
}

// Write renders d into a new file at p. An existing file is never
// overwritten; that case returns an error wrapping
// errdefs.ErrResourceConflict.
func Write(p string, d Domain) error {
	return WriteFile(p, []byte(Render(d)))
}

// WriteFile creates p exclusively with data.
func WriteFile(p string, data []byte) error {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		return errdefs.ResourceConflict("domain configuration %s already exists", p)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", p, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}
