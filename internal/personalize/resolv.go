package personalize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

// backupSuffix marks the guest's own resolv.conf while the host copy is in
// place.
const backupSuffix = ".kiln-orig"

// Result undoes the temporary changes Apply makes for the chroot.
type Result struct {
	log logrus.FieldLogger

	// resolvConf is the copied host file; empty when nothing was copied.
	resolvConf string
	// backup holds the guest's original file; empty when there was none.
	backup string
	done   bool
}

// Restore puts the guest's resolv.conf back, or removes the host copy when
// the guest had none. It is safe to call more than once and on a nil Result.
func (r *Result) Restore() error {
	if r == nil || r.done || r.resolvConf == "" {
		return nil
	}
	r.done = true

	if err := os.Remove(r.resolvConf); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", r.resolvConf, err)
	}
	if r.backup == "" {
		r.log.Debugf("Removed temporary %s", r.resolvConf)
		return nil
	}
	if err := os.Rename(r.backup, r.resolvConf); err != nil {
		return fmt.Errorf("failed to restore %s: %w", r.resolvConf, err)
	}
	r.log.Debugf("Restored %s", r.resolvConf)
	return nil
}

// resolvConf copies the host resolver configuration into the root, keeping
// the guest's file (possibly a symlink) aside.
func (p *Personalizer) resolvConf(root string) (*Result, error) {
	res := &Result{log: p.log}

	data, err := os.ReadFile(p.hostResolvConf)
	if errors.Is(err, fs.ErrNotExist) {
		p.log.Warnf("Host has no %s, DNS may not work in the chroot", p.hostResolvConf)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.hostResolvConf, err)
	}

	target, err := resolveParent(root, "etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	if err := ensureDir(target); err != nil {
		return nil, err
	}

	if exists(target) {
		backup := target + backupSuffix
		if err := os.Rename(target, backup); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", target, err)
		}
		res.backup = backup
	}

	p.log.Debugf("Copying %s to %s", p.hostResolvConf, target)
	res.resolvConf = target
	if err := os.WriteFile(target, data, 0644); err != nil {
		rerr := res.Restore()
		return nil, errors.Join(fmt.Errorf("failed to write %s: %w", target, err), rerr)
	}
	return res, nil
}
