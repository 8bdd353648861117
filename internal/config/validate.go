package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/storage"
)

// namePattern matches valid domain names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate reports every configuration problem, each wrapping
// errdefs.ErrConfigInvalid (or errdefs.ErrUnsupportedStorageKind for an
// unknown storage type). It does not touch hypervisor resources; existing
// storage and domain files are checked by the actions that create them.
func (c *Config) Validate() error {
	errs := slices.Clone(c.problems)
	add := func(format string, args ...any) {
		errs = append(errs, errdefs.ConfigInvalid(format, args...))
	}

	if !namePattern.MatchString(c.name) {
		add("name must contain only alphanumeric characters, hyphens or underscores, got %q", c.name)
	}
	if c.fqdn == "" {
		add("fqdn is required")
	}

	if c.system.Arch == "" {
		add("system.arch is required")
	}
	if c.system.Kernel == "" {
		add("system.kernel is required")
	}
	if c.system.Memory <= 0 {
		add("system.memory must be > 0, got %d", c.system.Memory)
	}
	if c.system.VCPU <= 0 {
		add("system.vcpu must be > 0, got %d", c.system.VCPU)
	}
	for i, key := range c.system.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			add("system.ssh_keys[%d] is not a valid SSH public key: %v", i, err)
		}
	}

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateNetwork()...)

	switch c.bootstrap.Portage {
	case PortageFetch, PortageInherit, PortageNone:
	default:
		add("bootstrap.portage must be one of fetch, inherit, none, got %q", c.bootstrap.Portage)
	}
	if c.bootstrap.Portage != PortageNone && c.bootstrap.PortageDir == "" {
		add("bootstrap.portage_dir is required with portage %s", c.bootstrap.Portage)
	}
	if c.bootstrap.CacheDir == "" {
		add("bootstrap.cache_dir is required")
	}
	if c.bootstrap.HTTPRetries < 0 {
		add("bootstrap.http_retries must be >= 0, got %d", c.bootstrap.HTTPRetries)
	}
	if c.bootstrap.PostSetup != "" {
		info, err := os.Stat(c.bootstrap.PostSetup)
		switch {
		case err != nil:
			add("bootstrap.post_setup: %v", err)
		case info.IsDir() || info.Mode().Perm()&0111 == 0:
			add("bootstrap.post_setup %s is not an executable file", c.bootstrap.PostSetup)
		}
	}

	if c.xen.ConfigDir == "" {
		add("xen.config_dir is required")
	}

	return errors.Join(errs...)
}

func (c *Config) validateStorage() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, errdefs.ConfigInvalid(format, args...))
	}

	if c.declared == 0 {
		add("storage layout %q has no units", c.layout)
	}
	// Units that failed to resolve are already reported.
	if len(c.units) == 0 {
		return errs
	}

	mounts := make(map[string]string)
	devices := make(map[string]string)
	roots := 0
	for _, u := range c.units {
		if mp := u.Mountpoint(); mp != "" {
			if other, ok := mounts[mp]; ok {
				add("storage units %s and %s share mount point %s", other, u.Name(), mp)
			}
			mounts[mp] = u.Name()
		}
		if other, ok := devices[u.GuestDevice()]; ok {
			add("storage units %s and %s share guest device %s", other, u.Name(), u.GuestDevice())
		}
		devices[u.GuestDevice()] = u.Name()
		if storage.IsRoot(u) {
			roots++
		}
	}

	switch {
	case roots == 0:
		add("storage layout %q has no unit mounted at /", c.layout)
	case roots > 1:
		add("storage layout %q has %d units mounted at /", c.layout, roots)
	}

	return errs
}

func (c *Config) validateNetwork() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, errdefs.ConfigInvalid(format, args...))
	}

	if c.network.Bridge == "" {
		add("network.bridge is required")
	}

	s := c.network.Static
	if s == nil {
		return errs
	}

	if err := checkStaticAddress(s.Address); err != nil {
		add("network.config %q is neither auto nor an address: %v", s.Address, err)
	}
	if s.Gateway == "" {
		add("network.gateway is required with a static config")
	} else if net.ParseIP(s.Gateway) == nil {
		add("network.gateway %q is not a valid IP address", s.Gateway)
	}
	for i, dns := range s.DNSServers {
		if net.ParseIP(dns) == nil {
			add("network.dns_servers[%d] is not a valid IP address: %q", i, dns)
		}
	}

	return errs
}

// checkStaticAddress accepts netifrc config_eth0 values: one or more
// addresses, optionally followed by keywords such as "netmask". The first
// field must be an address and every field carrying a prefix must parse.
func checkStaticAddress(value string) error {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return errors.New("empty")
	}
	if net.ParseIP(fields[0]) == nil {
		if _, _, err := net.ParseCIDR(fields[0]); err != nil {
			return err
		}
	}
	for _, field := range fields[1:] {
		if !strings.Contains(field, "/") {
			continue
		}
		if _, _, err := net.ParseCIDR(field); err != nil {
			return err
		}
	}
	return nil
}

// String summarizes the config for debug logs without the root password.
func (c *Config) String() string {
	return fmt.Sprintf("%s (%s) arch=%s storage=%s units=%d mac=%s", c.name, c.fqdn, c.system.Arch, c.storageKind, len(c.units), c.mac)
}
