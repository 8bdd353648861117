// Package chroot runs the guest setup script inside a freshly installed root.
//
// The embedded bootstrap script is written into the root, host /dev and a
// proc filesystem are mounted, and the script is run with chroot(8). An
// optional post-setup executable is then run on the host with the root path
// as its only argument. Script copies and mounts are removed afterwards
// whether or not setup succeeded.
package chroot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/logging"
)

//go:embed bootstrap.sh
var bootstrapScript []byte

const (
	// ScriptPath is where the bootstrap script is placed in the guest.
	ScriptPath = "/root/kiln-bootstrap.sh"

	// PostSetupPath is where the post-setup executable is copied in the guest.
	PostSetupPath = "/root/kiln-post-setup"

	// HostDevDir is bind mounted into the guest.
	HostDevDir = "/dev"
)

// Mounter is the subset of mount.Manager the setup needs.
type Mounter interface {
	Bind(source, target string) error
	Proc(target string) error
	Unmount(target string) error
}

// Args are the positional arguments of the bootstrap script.
type Args struct {
	Locale   string
	Password string
	Packages []string
	Overlays []string
	Services []string
}

// List returns the script arguments in order.
func (a Args) List() []string {
	return []string{
		a.Locale,
		a.Password,
		strings.Join(a.Packages, " "),
		strings.Join(a.Overlays, " "),
		strings.Join(a.Services, " "),
	}
}

// Setup runs the chrooted guest setup.
type Setup struct {
	runner  execx.Runner
	mounter Mounter
	log     logrus.FieldLogger
	devDir  string
	chown   func(name string, uid, gid int) error
}

// New returns a Setup that runs commands with runner and mounts with mounter.
func New(runner execx.Runner, mounter Mounter, log logrus.FieldLogger) *Setup {
	return &Setup{
		runner:  runner,
		mounter: mounter,
		log:     logging.OrDiscard(log),
		devDir:  HostDevDir,
		chown:   os.Lchown,
	}
}

// Script returns the embedded bootstrap script.
func Script() []byte {
	return append([]byte(nil), bootstrapScript...)
}

// Run performs the setup. Cleanup failures are logged, not returned; the
// caller's unmount sweep catches mounts left behind.
func (s *Setup) Run(ctx context.Context, root string, args Args, postSetup string) error {
	s.log.Info("Running setup in chroot...")

	guestRoot, err := securejoin.SecureJoin(root, "root")
	if err != nil {
		return fmt.Errorf("failed to resolve /root in %s: %w", root, err)
	}
	if err := os.MkdirAll(guestRoot, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", guestRoot, err)
	}

	script := filepath.Join(guestRoot, filepath.Base(ScriptPath))
	defer s.remove(script)
	if err := os.WriteFile(script, bootstrapScript, 0700); err != nil {
		return fmt.Errorf("failed to write bootstrap script: %w", err)
	}

	var postCopy string
	if postSetup != "" {
		postCopy = filepath.Join(guestRoot, filepath.Base(PostSetupPath))
		defer s.remove(postCopy)
		if err := s.copyExecutable(postSetup, postCopy); err != nil {
			return fmt.Errorf("failed to copy post-setup executable: %w", err)
		}
	}

	dev, err := s.mountPoint(root, "dev")
	if err != nil {
		return err
	}
	if err := s.mounter.Bind(s.devDir, dev); err != nil {
		return err
	}
	defer s.unmount(dev)

	proc, err := s.mountPoint(root, "proc")
	if err != nil {
		return err
	}
	if err := s.mounter.Proc(proc); err != nil {
		return err
	}
	defer s.unmount(proc)

	chrootArgs := append([]string{root, "/bin/bash", ScriptPath}, args.List()...)
	if _, err := s.runner.Run(ctx, "chroot", chrootArgs...); err != nil {
		execx.LogFailure(s.log, err)
		return fmt.Errorf("failed to run bootstrap script: %w", err)
	}

	if postCopy != "" {
		s.log.Infof("Running post-setup %s", postSetup)
		if _, err := s.runner.Run(ctx, postCopy, root); err != nil {
			execx.LogFailure(s.log, err)
			return fmt.Errorf("failed to run post-setup executable: %w", err)
		}
	}

	return nil
}

func (s *Setup) mountPoint(root, name string) (string, error) {
	p, err := securejoin.SecureJoin(root, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve /%s in %s: %w", name, root, err)
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", p, err)
	}
	return p, nil
}

// copyExecutable copies src to dst as a root-owned 0755 file.
func (s *Setup) copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, 0755); err != nil {
		return err
	}
	return s.chown(dst, 0, 0)
}

func (s *Setup) remove(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warnf("Failed to remove %s: %v", p, err)
	}
}

func (s *Setup) unmount(target string) {
	if err := s.mounter.Unmount(target); err != nil {
		s.log.Warnf("Failed to unmount %s: %v", target, err)
	}
}
