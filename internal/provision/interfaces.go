package provision

import (
	"context"

	"github.com/jbweber/kiln/internal/chroot"
	"github.com/jbweber/kiln/internal/personalize"
)

// mounter is satisfied by *mount.Manager.
type mounter interface {
	Mount(fstype, source, target string) error
	Bind(source, target string) error
	UnmountUnder(prefix string) []error
}

// fetcher is satisfied by *fetch.Fetcher.
type fetcher interface {
	FetchStage3(ctx context.Context, arch, variant string) (string, error)
	FetchPortage(ctx context.Context) (string, error)
}

// extractor unpacks an archive into a directory.
type extractor interface {
	Extract(ctx context.Context, archivePath, dest string) error
}

// personalizer is satisfied by *personalize.Personalizer.
type personalizer interface {
	Apply(root string) (*personalize.Result, error)
}

// setupRunner is satisfied by *chroot.Setup.
type setupRunner interface {
	Run(ctx context.Context, root string, args chroot.Args, postSetup string) error
}

// domainRegistry is satisfied by *libvirt.Client.
type domainRegistry interface {
	DomainExists(name string) (bool, error)
	DefineDomain(xml string) error
	Close() error
}
