package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/storage"
	"github.com/jbweber/kiln/internal/xen"
)

// Action names, as they appear in logs and reports.
const (
	ActionCheckConfig       = "CheckConfig"
	ActionCreateStorage     = "CreateStorage"
	ActionInstallGuestOS    = "InstallGuestOS"
	ActionWriteDomainConfig = "WriteDomainConfig"
	ActionDefineDomain      = "DefineDomain"
)

// checkConfig vetoes a run with an invalid configuration.
type checkConfig struct {
	cfg *config.Config
}

func (a *checkConfig) Name() string { return ActionCheckConfig }

func (a *checkConfig) Test(ctx context.Context) error {
	return a.cfg.Validate()
}

func (a *checkConfig) Execute(ctx context.Context) error { return nil }

// createStorage allocates and formats the storage units.
type createStorage struct {
	units []storage.Unit
	log   logrus.FieldLogger
}

func (a *createStorage) Name() string { return ActionCreateStorage }

// Test refuses to run when any unit already exists, so re-running a failed
// provisioning never formats storage that may hold data.
func (a *createStorage) Test(ctx context.Context) error {
	if len(a.units) == 0 {
		return errdefs.ConfigInvalid("no storage units configured")
	}

	var errs []error
	for _, u := range a.units {
		exists, err := u.Exists()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to check storage %s: %w", u.Name(), err))
			continue
		}
		if exists {
			errs = append(errs, errdefs.ResourceConflict("storage %s (%s) already exists", u.Name(), u.Device()))
		}
	}
	return errors.Join(errs...)
}

func (a *createStorage) Execute(ctx context.Context) error {
	for _, u := range a.units {
		a.log.WithField("device", u.Device()).Infof("Creating %s storage %s (%s)", u.Kind(), u.Name(), u.Size())
		if err := u.Create(ctx); err != nil {
			return err
		}
		if err := u.Format(ctx); err != nil {
			return err
		}
	}
	return nil
}

// writeDomainConfig writes the hypervisor's view of the guest.
type writeDomainConfig struct {
	cfg *config.Config
	log logrus.FieldLogger
}

func (a *writeDomainConfig) Name() string { return ActionWriteDomainConfig }

func (a *writeDomainConfig) paths() []string {
	dir := a.cfg.Xen().ConfigDir
	paths := []string{xen.ConfigPath(dir, a.cfg.Name())}
	if a.cfg.Xen().LibvirtXML {
		paths = append(paths, filepath.Join(dir, naming.DomainXMLName(a.cfg.Name())))
	}
	return paths
}

func (a *writeDomainConfig) Test(ctx context.Context) error {
	dir := a.cfg.Xen().ConfigDir
	info, err := os.Stat(dir)
	if err != nil {
		return errdefs.FilesystemPrecondition("domain configuration directory %s: %v", dir, err)
	}
	if !info.IsDir() {
		return errdefs.FilesystemPrecondition("domain configuration directory %s is not a directory", dir)
	}

	for _, p := range a.paths() {
		_, err := os.Lstat(p)
		if err == nil {
			a.log.Errorf("Domain configuration %s already exists", p)
			return errdefs.ResourceConflict("domain configuration %s already exists", p)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", p, err)
		}
	}
	return nil
}

func (a *writeDomainConfig) Execute(ctx context.Context) error {
	a.log.Info("Writing domain configuration...")
	d := xen.FromConfig(a.cfg)
	paths := a.paths()

	if err := xen.Write(paths[0], d); err != nil {
		return err
	}
	a.log.Infof("Wrote %s", paths[0])

	if len(paths) > 1 {
		xml, err := libvirt.GenerateDomainXML(d)
		if err != nil {
			return err
		}
		if err := xen.WriteFile(paths[1], []byte(xml)); err != nil {
			return err
		}
		a.log.Infof("Wrote %s", paths[1])
	}
	return nil
}

// defineDomain registers the guest with libvirtd.
type defineDomain struct {
	cfg     *config.Config
	connect func(ctx context.Context) (domainRegistry, error)
	log     logrus.FieldLogger
}

func (a *defineDomain) Name() string { return ActionDefineDomain }

func (a *defineDomain) withRegistry(ctx context.Context, fn func(r domainRegistry) error) error {
	r, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			a.log.Warnf("Failed to close libvirt connection: %v", err)
		}
	}()
	return fn(r)
}

func (a *defineDomain) Test(ctx context.Context) error {
	return a.withRegistry(ctx, func(r domainRegistry) error {
		exists, err := r.DomainExists(a.cfg.Name())
		if err != nil {
			return err
		}
		if exists {
			return errdefs.ResourceConflict("libvirt domain %s already exists", a.cfg.Name())
		}
		return nil
	})
}

func (a *defineDomain) Execute(ctx context.Context) error {
	xml, err := libvirt.GenerateDomainXML(xen.FromConfig(a.cfg))
	if err != nil {
		return err
	}
	return a.withRegistry(ctx, func(r domainRegistry) error {
		a.log.Infof("Defining libvirt domain %s", a.cfg.Name())
		return r.DefineDomain(xml)
	})
}
