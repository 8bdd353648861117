package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/chroot"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/personalize"
	"github.com/jbweber/kiln/internal/storage"
)

// snapshotDir is the top-level directory of a package tree snapshot.
const snapshotDir = "portage"

// mountDirPermissions are used for mount points created in the guest.
const mountDirPermissions = 0755

// installGuestOS mounts the new storage in a temporary directory, unpacks the
// guest OS into it and optionally configures it. Everything it mounts or
// copies in is undone before Execute returns, whatever the outcome.
type installGuestOS struct {
	cfg         *config.Config
	personalize bool

	mounter      mounter
	fetcher      fetcher
	extractor    extractor
	personalizer personalizer
	setup        setupRunner
	tempDir      func() (string, error)
	log          logrus.FieldLogger
}

func (a *installGuestOS) Name() string { return ActionInstallGuestOS }

// Test always passes. The install is the heavy mutator; its preconditions
// are checked as it goes and every failure is followed by cleanup.
func (a *installGuestOS) Test(ctx context.Context) error {
	return nil
}

func (a *installGuestOS) Execute(ctx context.Context) error {
	wd, err := a.tempDir()
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	// Mount table entries use the resolved path.
	if resolved, err := filepath.EvalSymlinks(wd); err == nil {
		wd = resolved
	}
	a.log.Infof("Working directory %s", wd)

	if a.cfg.RootUnit() == nil {
		_ = os.Remove(wd)
		return errdefs.ConfigInvalid("no storage unit is mounted at /")
	}

	var res *personalize.Result
	defer a.cleanup(wd, &res)

	if err := a.mountStorage(wd); err != nil {
		return err
	}

	b := a.cfg.Bootstrap()
	stage3, err := a.fetcher.FetchStage3(ctx, a.cfg.System().Arch, b.Stage3Variant)
	if err != nil {
		return err
	}
	a.log.Infof("Extracting %s", filepath.Base(stage3))
	if err := a.extractor.Extract(ctx, stage3, wd); err != nil {
		return fmt.Errorf("failed to extract stage3: %w", err)
	}

	if err := a.installPortage(ctx, wd, b); err != nil {
		return err
	}

	if !a.personalize {
		a.log.Info("Skipping personalization")
		return nil
	}

	res, err = a.personalizer.Apply(wd)
	if err != nil {
		return err
	}

	args := chroot.Args{
		Locale:   a.cfg.System().DefaultLocale,
		Password: a.cfg.RootPassword(),
		Packages: b.Packages,
		Overlays: b.Overlays,
		Services: b.Services,
	}
	return a.setup.Run(ctx, wd, args, b.PostSetup)
}

// cleanup never fails the action; what it cannot undo is logged.
func (a *installGuestOS) cleanup(wd string, res **personalize.Result) {
	if err := (*res).Restore(); err != nil {
		a.log.Warnf("Failed to restore resolv.conf: %v", err)
	}
	for _, err := range a.mounter.UnmountUnder(wd) {
		a.log.Warnf("Failed to unmount: %v", err)
	}
	// Remove, not RemoveAll: a mount that survived must keep its data.
	if err := os.Remove(wd); err != nil {
		a.log.Warnf("Failed to remove working directory %s: %v", wd, err)
	}
}

// mountStorage mounts the root unit on wd and every other mounted unit below
// it, parents first.
func (a *installGuestOS) mountStorage(wd string) error {
	root := a.cfg.RootUnit()
	if err := a.mountUnit(root, wd); err != nil {
		return err
	}

	var rest []storage.Unit
	for _, u := range a.cfg.Storage() {
		if storage.IsRoot(u) || storage.IsSwap(u) || u.Mountpoint() == "" {
			continue
		}
		rest = append(rest, u)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Mountpoint() < rest[j].Mountpoint() })

	for _, u := range rest {
		target, err := securejoin.SecureJoin(wd, u.Mountpoint())
		if err != nil {
			return fmt.Errorf("failed to resolve mount point %s: %w", u.Mountpoint(), err)
		}
		if err := os.MkdirAll(target, mountDirPermissions); err != nil {
			return fmt.Errorf("failed to create mount point %s: %w", target, err)
		}
		if err := a.mountUnit(u, target); err != nil {
			return err
		}
	}
	return nil
}

func (a *installGuestOS) mountUnit(u storage.Unit, target string) error {
	a.log.WithField("device", u.Device()).Infof("Mounting %s on %s", u.Name(), target)
	if u.IsBlock() {
		return a.mounter.Mount(u.Filesystem(), u.Device(), target)
	}
	return a.mounter.Bind(u.Device(), target)
}

func (a *installGuestOS) installPortage(ctx context.Context, wd string, b config.Bootstrap) error {
	switch b.Portage {
	case config.PortageNone:
		a.log.Info("Leaving the package tree alone")
		return nil

	case config.PortageInherit:
		empty, err := isEmptyDir(b.PortageDir)
		if err != nil {
			return errdefs.FilesystemPrecondition("host package tree %s: %v", b.PortageDir, err)
		}
		if empty {
			return errdefs.FilesystemPrecondition("host package tree %s is empty", b.PortageDir)
		}

		target, err := securejoin.SecureJoin(wd, b.PortageDir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", b.PortageDir, err)
		}
		if err := os.MkdirAll(target, mountDirPermissions); err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		a.log.Infof("Bind mounting host package tree %s", b.PortageDir)
		return a.mounter.Bind(b.PortageDir, target)
	}

	snapshot, err := a.fetcher.FetchPortage(ctx)
	if err != nil {
		return err
	}

	target, err := securejoin.SecureJoin(wd, b.PortageDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", b.PortageDir, err)
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, mountDirPermissions); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	a.log.Infof("Extracting %s", filepath.Base(snapshot))
	if err := a.extractor.Extract(ctx, snapshot, parent); err != nil {
		return fmt.Errorf("failed to extract package tree: %w", err)
	}
	if filepath.Base(target) == snapshotDir {
		return nil
	}

	// Stage3 tarballs ship an empty placeholder for the tree.
	if empty, err := isEmptyDir(target); err == nil && empty {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("failed to remove placeholder %s: %w", target, err)
		}
	}
	if err := os.Rename(filepath.Join(parent, snapshotDir), target); err != nil {
		return fmt.Errorf("failed to move package tree into place: %w", err)
	}
	return nil
}

// isEmptyDir reports whether dir has no entries.
func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
