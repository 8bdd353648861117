// Package mount performs the mounts a guest install needs and tears them
// down again.
//
// The live mount table is the source of truth for teardown: UnmountUnder
// re-reads it on every call rather than remembering what was mounted, so
// mounts made by the chrooted setup (or left over from a crashed step) are
// found as well.
package mount

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
)

// MaxUnmountRetries bounds the retries of an unmount that fails with EBUSY.
const MaxUnmountRetries = 5

// Syscalls is the subset of mount(2) and umount(2) kiln uses.
type Syscalls interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

// Table lists live mount points.
type Table interface {
	// MountsUnder returns every mount point equal to or beneath prefix.
	MountsUnder(prefix string) ([]string, error)
}

type unixSyscalls struct{}

func (unixSyscalls) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (unixSyscalls) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// HostTable reads /proc/self/mountinfo.
type HostTable struct{}

// MountsUnder implements Table.
func (HostTable) MountsUnder(prefix string) ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	points := make([]string, 0, len(infos))
	for _, info := range infos {
		points = append(points, info.Mountpoint)
	}
	return points, nil
}

// Manager mounts and unmounts filesystems.
type Manager struct {
	sys   Syscalls
	table Table
	log   logrus.FieldLogger

	// newBackOff returns the retry policy for busy unmounts.
	newBackOff func() backoff.BackOff
}

// NewManager returns a Manager backed by the host's syscalls and mount table.
func NewManager(log logrus.FieldLogger) *Manager {
	return NewManagerWithDeps(unixSyscalls{}, HostTable{}, log)
}

// NewManagerWithDeps returns a Manager with injected dependencies.
func NewManagerWithDeps(sys Syscalls, table Table, log logrus.FieldLogger) *Manager {
	return &Manager{
		sys:        sys,
		table:      table,
		log:        logging.OrDiscard(log),
		newBackOff: newBackOff,
	}
}

// newBackOff starts around 100ms and gives up after MaxUnmountRetries.
func newBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, MaxUnmountRetries)
}

// Mount mounts the filesystem of type fstype on source at target.
func (m *Manager) Mount(fstype, source, target string) error {
	m.log.WithField("mountpoint", target).Infof("Mounting %s (%s) on %s", source, fstype, target)
	if err := m.sys.Mount(source, target, fstype, 0, ""); err != nil {
		return errdefs.Mount("mount", target, err)
	}
	return nil
}

// Bind bind-mounts source at target.
func (m *Manager) Bind(source, target string) error {
	m.log.WithField("mountpoint", target).Infof("Bind mounting %s on %s", source, target)
	if err := m.sys.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return errdefs.Mount("bind mount", target, err)
	}
	return nil
}

// Proc mounts a proc filesystem at target.
func (m *Manager) Proc(target string) error {
	return m.Mount("proc", "proc", target)
}

// Unmount unmounts target, retrying while it is busy.
func (m *Manager) Unmount(target string) error {
	m.log.WithField("mountpoint", target).Debugf("Unmounting %s", target)

	op := func() error {
		err := m.sys.Unmount(target, 0)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EBUSY) {
			m.log.WithField("mountpoint", target).Debugf("%s is busy, retrying", target)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, m.newBackOff()); err != nil {
		return errdefs.Mount("unmount", target, err)
	}
	return nil
}

// UnmountUnder unmounts every mount point equal to or beneath prefix, deepest
// path first (reverse lexicographic order). It keeps going after a failure
// and returns every error it hit.
func (m *Manager) UnmountUnder(prefix string) []error {
	points, err := m.table.MountsUnder(prefix)
	if err != nil {
		return []error{err}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(points)))

	var errs []error
	for _, p := range points {
		if err := m.Unmount(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MountsUnder exposes the table lookup.
func (m *Manager) MountsUnder(prefix string) ([]string, error) {
	return m.table.MountsUnder(prefix)
}
