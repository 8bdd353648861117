package provision

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/archive"
	"github.com/jbweber/kiln/internal/chroot"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/fetch"
	"github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/mount"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/personalize"
	"github.com/jbweber/kiln/internal/pipeline"
	"github.com/jbweber/kiln/internal/size"
	"github.com/jbweber/kiln/internal/status"
	"github.com/jbweber/kiln/internal/xen"
)

// Options select the optional parts of a run.
type Options struct {
	// Install unpacks the guest OS onto the new storage.
	Install bool
	// Personalize configures the installed guest and runs the chrooted
	// setup. It has no effect without Install.
	Personalize bool
	// UserAgent overrides the HTTP User-Agent of downloads.
	UserAgent string
}

// UnitSummary describes one created storage unit.
type UnitSummary struct {
	Name        string    `json:"name" yaml:"name"`
	Kind        string    `json:"kind" yaml:"kind"`
	Device      string    `json:"device" yaml:"device"`
	GuestDevice string    `json:"guestDevice" yaml:"guestDevice"`
	Filesystem  string    `json:"filesystem" yaml:"filesystem"`
	Mount       string    `json:"mount,omitempty" yaml:"mount,omitempty"`
	Size        size.Size `json:"size" yaml:"size"`
}

// Result is what a run did, or would have done.
type Result struct {
	Report *status.Report `json:"report" yaml:"report"`

	Name string `json:"name" yaml:"name"`
	FQDN string `json:"fqdn" yaml:"fqdn"`
	MAC  string `json:"mac" yaml:"mac"`
	UUID string `json:"uuid" yaml:"uuid"`
	// RootPassword is set only when the run personalized the guest.
	RootPassword string        `json:"rootPassword,omitempty" yaml:"rootPassword,omitempty"`
	ConfigPath   string        `json:"configPath" yaml:"configPath"`
	XMLPath      string        `json:"xmlPath,omitempty" yaml:"xmlPath,omitempty"`
	Units        []UnitSummary `json:"units" yaml:"units"`
}

// Succeeded reports whether every action completed.
func (r *Result) Succeeded() bool {
	return r.Report != nil && status.IsSuccess(r.Report.Phase)
}

// deps are the host-facing collaborators of a run.
type deps struct {
	mounter      mounter
	fetcher      fetcher
	extractor    extractor
	personalizer personalizer
	setup        setupRunner
	connect      func(ctx context.Context) (domainRegistry, error)
	tempDir      func() (string, error)
}

// archiveExtractor adapts archive.Extract to the extractor interface.
type archiveExtractor struct {
	opts archive.Options
}

func (x archiveExtractor) Extract(ctx context.Context, archivePath, dest string) error {
	return archive.Extract(ctx, archivePath, dest, x.opts)
}

// Run provisions the domain described by cfg. The Result is never nil; its
// Report shows how far the run got.
func Run(ctx context.Context, cfg *config.Config, opts Options, log logrus.FieldLogger) (*Result, error) {
	log = logging.OrDiscard(log)
	b := cfg.Bootstrap()

	client := fetch.NewClient(fetch.ClientOptions{
		Timeout: b.HTTPTimeout,
		Retries: b.HTTPRetries,
		Log:     log,
	})
	fetcher := fetch.New(b.Mirrors, b.CacheDir, client, log)
	if opts.UserAgent != "" {
		fetcher.SetUserAgent(opts.UserAgent)
	}

	mgr := mount.NewManager(log)
	socket := cfg.Libvirt().Socket

	d := deps{
		mounter:      mgr,
		fetcher:      fetcher,
		extractor:    archiveExtractor{opts: archive.DefaultOptions(log)},
		personalizer: personalize.New(cfg, log),
		setup:        chroot.New(execx.New(log), mgr, log),
		connect: func(ctx context.Context) (domainRegistry, error) {
			c, err := libvirt.ConnectWithContext(ctx, socket, 0)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		tempDir: func() (string, error) {
			return os.MkdirTemp("", "kiln-")
		},
	}

	return runWithDeps(ctx, cfg, opts, d, log)
}

// runWithDeps assembles the actions and runs them through the pipeline.
func runWithDeps(ctx context.Context, cfg *config.Config, opts Options, d deps, log logrus.FieldLogger) (*Result, error) {
	log = logging.OrDiscard(log).WithField("domain", cfg.Name())

	actions := []pipeline.Action{
		&checkConfig{cfg: cfg},
		&createStorage{units: cfg.Storage(), log: log},
	}
	if opts.Install {
		actions = append(actions, &installGuestOS{
			cfg:          cfg,
			personalize:  opts.Personalize,
			mounter:      d.mounter,
			fetcher:      d.fetcher,
			extractor:    d.extractor,
			personalizer: d.personalizer,
			setup:        d.setup,
			tempDir:      d.tempDir,
			log:          log,
		})
	} else {
		log.Info("Skipping guest OS installation")
	}
	actions = append(actions, &writeDomainConfig{cfg: cfg, log: log})
	if cfg.Libvirt().Define {
		actions = append(actions, &defineDomain{cfg: cfg, connect: d.connect, log: log})
	}

	res := newResult(cfg, opts)
	report, err := pipeline.Run(ctx, actions, log)
	res.Report = report
	if err != nil {
		return res, err
	}
	return res, nil
}

func newResult(cfg *config.Config, opts Options) *Result {
	res := &Result{
		Name:       cfg.Name(),
		FQDN:       cfg.FQDN(),
		MAC:        cfg.MAC(),
		UUID:       cfg.UUID(),
		ConfigPath: xen.ConfigPath(cfg.Xen().ConfigDir, cfg.Name()),
	}
	if opts.Install && opts.Personalize {
		res.RootPassword = cfg.RootPassword()
	}
	if cfg.Xen().LibvirtXML {
		res.XMLPath = filepath.Join(cfg.Xen().ConfigDir, naming.DomainXMLName(cfg.Name()))
	}
	for _, u := range cfg.Storage() {
		res.Units = append(res.Units, UnitSummary{
			Name:        u.Name(),
			Kind:        string(u.Kind()),
			Device:      u.Device(),
			GuestDevice: u.GuestDevice(),
			Filesystem:  u.Filesystem(),
			Mount:       u.Mountpoint(),
			Size:        u.Size(),
		})
	}
	return res
}
