package config

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/storage"
)

// NetworkAuto selects DHCP in network.config.
const NetworkAuto = "auto"

// PortagePolicy selects where the guest's package tree comes from.
type PortagePolicy string

const (
	PortageFetch   PortagePolicy = "fetch"   // Download and extract the latest snapshot
	PortageInherit PortagePolicy = "inherit" // Bind mount the host tree during setup
	PortageNone    PortagePolicy = "none"    // Leave the tree alone
)

// Overrides are values given on the command line. Empty fields are ignored.
type Overrides struct {
	Name         string
	FQDN         string
	XenConfigDir string
	PostSetup    string
}

// ResolveOptions carry the host dependencies of Resolve.
type ResolveOptions struct {
	// Random seeds the MAC, password and UUID. Defaults to crypto/rand.
	Random io.Reader
	// MakeConfPaths are searched for GENTOO_MIRRORS. Defaults to DefaultMakeConfPaths.
	MakeConfPaths []string
	// DevDir is where LVM device nodes live. Defaults to /dev.
	DevDir string
	// Runner executes storage commands.
	Runner execx.Runner
	Log    logrus.FieldLogger
}

// System is the resolved guest system section.
type System struct {
	Arch          string
	Kernel        string
	Extra         string
	Memory        int
	VCPU          int
	Locales       []string
	DefaultLocale string
	Timezone      string
	SSHKeys       []string
}

// Network is the resolved network section. Static is nil for DHCP.
type Network struct {
	Bridge string
	Static *StaticNetwork
}

// StaticNetwork is a fixed address configuration.
type StaticNetwork struct {
	Address    string // With prefix, e.g. "10.0.0.5/24"
	Gateway    string
	DNSServers []string
	Search     string
	Domain     string
}

// Bootstrap is the resolved bootstrap section.
type Bootstrap struct {
	Mirrors       []string
	Stage3Variant string
	CacheDir      string
	Portage       PortagePolicy
	PortageDir    string
	HTTPTimeout   time.Duration
	HTTPRetries   int
	Packages      []string
	Overlays      []string
	Services      []string
	PostSetup     string
}

// KeyValue is one make.conf assignment.
type KeyValue struct {
	Key   string
	Value string
}

// Portage is the resolved package manager section.
type Portage struct {
	Use      []PackageFlags
	Keywords []PackageFlags
	MakeConf []KeyValue // Sorted by key
}

// Config is a fully resolved configuration. It is never modified after
// Resolve returns; accessors hand out copies.
type Config struct {
	name     string
	fqdn     string
	hostname string

	system      System
	storageKind storage.Kind
	layout      string
	units       []storage.Unit
	declared    int // units in the selected layout, -1 when unresolvable
	network     Network
	bootstrap   Bootstrap
	portage     Portage
	xen         XenFile
	libvirt     LibvirtFile

	mac          string
	uuid         string
	rootPassword string

	// problems found while resolving, reported by Validate.
	problems []error
}

// Resolve turns the merged file and overrides into a Config. Invalid values
// do not fail Resolve; they are collected and reported by Validate so that
// the pre-flight check sees every problem. Resolve only fails when random
// values cannot be generated.
func Resolve(f *File, ov Overrides, opts ResolveOptions) (*Config, error) {
	log := logging.OrDiscard(opts.Log)
	if opts.MakeConfPaths == nil {
		opts.MakeConfPaths = DefaultMakeConfPaths
	}

	c := &Config{
		name:        ov.Name,
		fqdn:        strings.ToLower(ov.FQDN),
		storageKind: storage.Kind(f.Storage.Type),
		layout:      f.Storage.Layout,
		xen:         f.Xen,
		libvirt:     f.Libvirt,
	}
	c.hostname = naming.Hostname(c.fqdn)

	if ov.XenConfigDir != "" {
		c.xen.ConfigDir = ov.XenConfigDir
	}

	c.system = System{
		Arch:          f.System.Arch,
		Kernel:        f.System.Kernel,
		Extra:         f.System.Extra,
		Memory:        f.System.Memory,
		VCPU:          f.System.VCPU,
		Locales:       slices.Clone(f.System.Locales),
		DefaultLocale: f.System.DefaultLocale,
		Timezone:      f.System.Timezone,
		SSHKeys:       slices.Clone(f.System.SSHKeys),
	}
	if c.system.DefaultLocale == "" && len(c.system.Locales) > 0 {
		// "en_US.UTF-8 UTF-8" selects "en_US.UTF-8"
		c.system.DefaultLocale = strings.Fields(c.system.Locales[0] + " ")[0]
	}

	c.resolveStorage(f, opts, log)

	c.network = Network{Bridge: f.Network.Bridge}
	if f.Network.Config != "" && f.Network.Config != NetworkAuto {
		c.network.Static = &StaticNetwork{
			Address:    f.Network.Config,
			Gateway:    f.Network.Gateway,
			DNSServers: slices.Clone(f.Network.DNSServers),
			Search:     f.Network.Search,
			Domain:     f.Network.Domain,
		}
	}

	c.bootstrap = Bootstrap{
		Stage3Variant: f.Bootstrap.Stage3Variant,
		CacheDir:      f.Bootstrap.CacheDir,
		Portage:       PortagePolicy(f.Bootstrap.Portage),
		PortageDir:    f.Bootstrap.PortageDir,
		HTTPTimeout:   f.Bootstrap.HTTPTimeout,
		HTTPRetries:   f.Bootstrap.HTTPRetries,
		Packages:      slices.Clone(f.Bootstrap.Packages),
		Overlays:      slices.Clone(f.Bootstrap.Overlays),
		Services:      slices.Clone(f.Bootstrap.Services),
		PostSetup:     f.Bootstrap.PostSetup,
	}
	if ov.PostSetup != "" {
		c.bootstrap.PostSetup = ov.PostSetup
	}
	mirrors, err := resolveMirrors(f.Bootstrap.Mirrors, opts.MakeConfPaths)
	switch {
	case err != nil:
		c.problems = append(c.problems, errdefs.ConfigInvalid("bootstrap.mirrors: %v", err))
	case len(mirrors) == 0:
		c.problems = append(c.problems, errdefs.ConfigInvalid("bootstrap.mirrors is empty"))
	}
	c.bootstrap.Mirrors = mirrors

	c.portage = Portage{
		Use:      slices.Clone(f.Portage.Use),
		Keywords: slices.Clone(f.Portage.Keywords),
	}
	keys := make([]string, 0, len(f.Portage.MakeConf))
	for k := range f.Portage.MakeConf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.portage.MakeConf = append(c.portage.MakeConf, KeyValue{Key: k, Value: f.Portage.MakeConf[k]})
	}

	if err := c.generate(opts.Random); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) resolveStorage(f *File, opts ResolveOptions, log logrus.FieldLogger) {
	c.declared = -1
	layout, ok := f.Storage.Layouts[f.Storage.Layout]
	if !ok {
		c.problems = append(c.problems, errdefs.ConfigInvalid("storage layout %q not configured", f.Storage.Layout))
		return
	}

	if !slices.Contains(storage.Kinds, c.storageKind) {
		c.problems = append(c.problems, fmt.Errorf("storage.type: %w: %q", errdefs.ErrUnsupportedStorageKind, c.storageKind))
		return
	}

	c.declared = len(layout)
	vars := naming.Vars{Name: c.name, Hostname: c.hostname, FQDN: c.fqdn}
	for i, u := range layout {
		name, err := naming.Expand(u.Name, vars)
		if err != nil {
			c.problems = append(c.problems, errdefs.ConfigInvalid("storage unit %d: %v", i, err))
			continue
		}

		spec := storage.Spec{
			Name:          name,
			Size:          u.Size,
			Filesystem:    u.Filesystem,
			Mount:         u.Mount,
			GuestDevice:   u.GuestDevice,
			FormatOptions: f.Storage.FormatOptions,
			VolumeGroup:   f.Storage.VolumeGroup,
			BaseDir:       f.Storage.BaseDir,
			DevDir:        opts.DevDir,
		}
		if spec.GuestDevice == "" {
			spec.GuestDevice = fmt.Sprintf("/dev/xvda%d", i+1)
		}
		if u.FormatOptions != "" {
			spec.FormatOptions = u.FormatOptions
		}

		unit, err := storage.New(c.storageKind, spec, opts.Runner, log)
		if err != nil {
			c.problems = append(c.problems, fmt.Errorf("storage unit %d (%s): %w", i, name, err))
			continue
		}
		c.units = append(c.units, unit)
	}
}

// generate fills the values that are random but must stay fixed for the run.
func (c *Config) generate(r io.Reader) error {
	mac, err := naming.GenerateMAC(r)
	if err != nil {
		return fmt.Errorf("failed to generate MAC address: %w", err)
	}
	password, err := naming.GeneratePassword(r)
	if err != nil {
		return fmt.Errorf("failed to generate root password: %w", err)
	}

	var id uuid.UUID
	if r != nil {
		id, err = uuid.NewRandomFromReader(r)
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return fmt.Errorf("failed to generate domain UUID: %w", err)
	}

	c.mac = mac
	c.rootPassword = password
	c.uuid = id.String()
	return nil
}

// Name returns the domain name.
func (c *Config) Name() string { return c.name }

// FQDN returns the guest's fully qualified domain name.
func (c *Config) FQDN() string { return c.fqdn }

// Hostname returns the first label of the FQDN.
func (c *Config) Hostname() string { return c.hostname }

// MAC returns the generated interface MAC address.
func (c *Config) MAC() string { return c.mac }

// UUID returns the generated domain UUID.
func (c *Config) UUID() string { return c.uuid }

// RootPassword returns the generated root password.
func (c *Config) RootPassword() string { return c.rootPassword }

// StorageKind returns the configured storage kind.
func (c *Config) StorageKind() storage.Kind { return c.storageKind }

// System returns a copy of the system section.
func (c *Config) System() System {
	s := c.system
	s.Locales = slices.Clone(s.Locales)
	s.SSHKeys = slices.Clone(s.SSHKeys)
	return s
}

// Storage returns the storage units in declared order.
func (c *Config) Storage() []storage.Unit {
	return slices.Clone(c.units)
}

// RootUnit returns the unit mounted at /, or nil.
func (c *Config) RootUnit() storage.Unit {
	for _, u := range c.units {
		if storage.IsRoot(u) {
			return u
		}
	}
	return nil
}

// SwapUnit returns the first swap unit, or nil.
func (c *Config) SwapUnit() storage.Unit {
	for _, u := range c.units {
		if storage.IsSwap(u) {
			return u
		}
	}
	return nil
}

// Network returns a copy of the network section.
func (c *Config) Network() Network {
	n := c.network
	if n.Static != nil {
		s := *n.Static
		s.DNSServers = slices.Clone(s.DNSServers)
		n.Static = &s
	}
	return n
}

// Bootstrap returns a copy of the bootstrap section.
func (c *Config) Bootstrap() Bootstrap {
	b := c.bootstrap
	b.Mirrors = slices.Clone(b.Mirrors)
	b.Packages = slices.Clone(b.Packages)
	b.Overlays = slices.Clone(b.Overlays)
	b.Services = slices.Clone(b.Services)
	return b
}

// Portage returns a copy of the portage section.
func (c *Config) Portage() Portage {
	return Portage{
		Use:      slices.Clone(c.portage.Use),
		Keywords: slices.Clone(c.portage.Keywords),
		MakeConf: slices.Clone(c.portage.MakeConf),
	}
}

// Xen returns the domain configuration output settings.
func (c *Config) Xen() XenFile { return c.xen }

// Libvirt returns the libvirtd registration settings.
func (c *Config) Libvirt() LibvirtFile { return c.libvirt }
