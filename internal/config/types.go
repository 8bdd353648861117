package config

import (
	"time"

	"github.com/jbweber/kiln/internal/size"
)

// File is the on-disk configuration schema. Every layer (dist defaults, site,
// instance) decodes into the same File.
type File struct {
	System    SystemFile    `yaml:"system"`
	Storage   StorageFile   `yaml:"storage"`
	Network   NetworkFile   `yaml:"network"`
	Bootstrap BootstrapFile `yaml:"bootstrap"`
	Portage   PortageFile   `yaml:"portage"`
	Xen       XenFile       `yaml:"xen"`
	Libvirt   LibvirtFile   `yaml:"libvirt"`
}

// SystemFile describes the guest system.
type SystemFile struct {
	Arch          string   `yaml:"arch"`
	Kernel        string   `yaml:"kernel"`          // Host path of the domU kernel
	Extra         string   `yaml:"extra,omitempty"` // Kernel command line additions
	Memory        int      `yaml:"memory"`          // MiB
	VCPU          int      `yaml:"vcpu"`
	Locales       []string `yaml:"locales"` // locale.gen lines, e.g. "en_US.UTF-8 UTF-8"
	DefaultLocale string   `yaml:"default_locale,omitempty"`
	Timezone      string   `yaml:"timezone"`
	SSHKeys       []string `yaml:"ssh_keys,omitempty"` // Installed for root
}

// StorageFile selects the storage kind and layout.
type StorageFile struct {
	Type          string                `yaml:"type"` // lvm or filesystem
	VolumeGroup   string                `yaml:"volume_group,omitempty"`
	BaseDir       string                `yaml:"base_dir,omitempty"`
	FormatOptions string                `yaml:"format_options,omitempty"`
	Layout        string                `yaml:"layout"`
	Layouts       map[string][]UnitFile `yaml:"layouts"`
}

// UnitFile is one storage unit of a layout.
type UnitFile struct {
	Name          string    `yaml:"name"` // May contain {name}, {hostname}, {fqdn}
	Size          size.Size `yaml:"size"`
	Filesystem    string    `yaml:"filesystem"`
	Mount         string    `yaml:"mount,omitempty"`
	GuestDevice   string    `yaml:"guest_device,omitempty"`   // Default: /dev/xvda{N}
	FormatOptions string    `yaml:"format_options,omitempty"` // Overrides storage.format_options
}

// NetworkFile configures the guest's single interface.
type NetworkFile struct {
	Bridge     string   `yaml:"bridge"`
	Config     string   `yaml:"config"` // "auto" (DHCP) or an address with prefix, e.g. "10.0.0.5/24"
	Gateway    string   `yaml:"gateway,omitempty"`
	DNSServers []string `yaml:"dns_servers,omitempty"`
	Search     string   `yaml:"search,omitempty"`
	Domain     string   `yaml:"domain,omitempty"`
}

// BootstrapFile controls how the guest OS is installed.
type BootstrapFile struct {
	Mirrors       []string      `yaml:"mirrors"`                  // URLs, or [inherit] to use the host's GENTOO_MIRRORS
	Stage3Variant string        `yaml:"stage3_variant,omitempty"` // e.g. "openrc" selects latest-stage3-{arch}-openrc.txt
	CacheDir      string        `yaml:"cache_dir"`
	Portage       string        `yaml:"portage"`                  // fetch, inherit or none
	PortageDir    string        `yaml:"portage_dir"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	HTTPRetries   int           `yaml:"http_retries"`
	Packages      []string      `yaml:"packages,omitempty"`
	Overlays      []string      `yaml:"overlays,omitempty"`
	Services      []string      `yaml:"services,omitempty"`
	PostSetup     string        `yaml:"post_setup,omitempty"`     // Host executable run after setup with the root path
}

// PortageFile holds package manager settings written into the guest.
type PortageFile struct {
	Use      []PackageFlags    `yaml:"use,omitempty"`
	Keywords []PackageFlags    `yaml:"keywords,omitempty"`
	MakeConf map[string]string `yaml:"make_conf,omitempty"`
}

// PackageFlags is one package.use or package.accept_keywords entry.
type PackageFlags struct {
	Package string `yaml:"package"`
	Flags   string `yaml:"flags"`
}

// XenFile configures the domain configuration output.
type XenFile struct {
	ConfigDir  string `yaml:"config_dir"`
	LibvirtXML bool   `yaml:"libvirt_xml,omitempty"` // Also write {name}.xml
}

// LibvirtFile configures the optional libvirtd registration.
type LibvirtFile struct {
	Define bool   `yaml:"define,omitempty"`
	Socket string `yaml:"socket,omitempty"`
}
