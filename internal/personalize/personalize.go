package personalize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/cfgfile"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/storage"
)

const (
	// HostResolvConf is copied into the root so name resolution works in the
	// chroot.
	HostResolvConf = "/etc/resolv.conf"

	// ZoneinfoDir is where the guest keeps its timezone database.
	ZoneinfoDir = "/usr/share/zoneinfo"

	// PortageFile is the file written inside package.use style directories.
	PortageFile = "kiln"

	// GuestInterface is the only network interface of the guest.
	GuestInterface = "eth0"
)

// Personalizer applies a resolved configuration to a guest root.
type Personalizer struct {
	cfg            *config.Config
	log            logrus.FieldLogger
	hostResolvConf string
}

// New returns a Personalizer for cfg.
func New(cfg *config.Config, log logrus.FieldLogger) *Personalizer {
	return &Personalizer{
		cfg:            cfg,
		log:            logging.OrDiscard(log),
		hostResolvConf: HostResolvConf,
	}
}

// SetHostResolvConf overrides the host resolver file copied into the root.
func (p *Personalizer) SetHostResolvConf(path string) {
	p.hostResolvConf = path
}

// Apply personalizes the root. On success the returned Result must be
// restored once the chroot work is done.
func (p *Personalizer) Apply(root string) (*Result, error) {
	p.log.Info("Personalizing installation...")

	steps := []struct {
		name string
		fn   func(root string) error
	}{
		{"locales", p.locales},
		{"fstab", p.fstab},
		{"hostname", p.hostname},
		{"package flags", p.packageFlags},
		{"make.conf", p.makeConf},
		{"network", p.network},
	}
	for _, s := range steps {
		if err := s.fn(root); err != nil {
			return nil, fmt.Errorf("failed to configure %s: %w", s.name, err)
		}
	}

	res, err := p.resolvConf(root)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare resolv.conf: %w", err)
	}

	for _, s := range []struct {
		name string
		fn   func(root string) error
	}{
		{"timezone", p.timezone},
		{"authorized keys", p.authorizedKeys},
	} {
		if err := s.fn(root); err != nil {
			if rerr := res.Restore(); rerr != nil {
				p.log.Warnf("Failed to restore resolv.conf: %v", rerr)
			}
			return nil, fmt.Errorf("failed to configure %s: %w", s.name, err)
		}
	}

	return res, nil
}

// resolve returns the host path of the guest path rel, with every symlink
// along the way resolved inside root.
func resolve(root, rel string) (string, error) {
	p, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s in %s: %w", rel, root, err)
	}
	return p, nil
}

// resolveParent resolves the directory of rel inside root but keeps the last
// element as is, so a symlink there is replaced rather than followed.
func resolveParent(root, rel string) (string, error) {
	dir, err := resolve(root, path.Dir(rel))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, path.Base(rel)), nil
}

func ensureDir(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(file), err)
	}
	return nil
}

func (p *Personalizer) locales(root string) error {
	locales := p.cfg.System().Locales
	if len(locales) == 0 {
		return nil
	}
	p.log.Debug("Configuring locales...")

	file, err := resolve(root, "etc/locale.gen")
	if err != nil {
		return err
	}
	lines, err := cfgfile.LoadLines(file)
	if err != nil {
		return err
	}
	for _, l := range locales {
		lines.AppendMissing(l)
	}
	return lines.Save()
}

func (p *Personalizer) fstab(root string) error {
	p.log.Debug("Writing /etc/fstab")

	file, err := resolve(root, "etc/fstab")
	if err != nil {
		return err
	}
	fstab, err := cfgfile.LoadFstab(file)
	if err != nil {
		return err
	}

	// A separate /boot is only present when a unit declares it.
	fstab.Remove("/dev/BOOT")

	if u := p.cfg.RootUnit(); u != nil {
		found := fstab.Update("/dev/ROOT", func(e *cfgfile.FstabEntry) {
			e.Device = u.GuestDevice()
			e.Type = u.Filesystem()
		})
		if !found {
			fstab.Remove(u.GuestDevice())
			fstab.Add(cfgfile.FstabEntry{Device: u.GuestDevice(), Mountpoint: "/", Type: u.Filesystem(), Options: "noatime", Pass: 1})
		}
	}

	swap := p.cfg.SwapUnit()
	if swap != nil {
		found := fstab.Update("/dev/SWAP", func(e *cfgfile.FstabEntry) {
			e.Device = swap.GuestDevice()
		})
		if !found {
			fstab.Remove(swap.GuestDevice())
			fstab.Add(cfgfile.FstabEntry{Device: swap.GuestDevice(), Mountpoint: "none", Type: storage.SwapFilesystem, Options: "sw"})
		}
	}

	for _, u := range p.cfg.Storage() {
		if storage.IsRoot(u) || storage.IsSwap(u) || u.Mountpoint() == "" {
			continue
		}
		fstab.Remove(u.GuestDevice())
		fstab.Add(cfgfile.FstabEntry{Device: u.GuestDevice(), Mountpoint: u.Mountpoint(), Type: u.Filesystem(), Options: "defaults", Pass: 2})
	}

	return fstab.Save()
}

func (p *Personalizer) hostname(root string) error {
	host, fqdn := p.cfg.Hostname(), p.cfg.FQDN()
	p.log.Debugf("Setting hostname to '%s'", fqdn)

	file, err := resolve(root, "etc/conf.d/hostname")
	if err != nil {
		return err
	}
	if err := ensureDir(file); err != nil {
		return err
	}
	kv, err := cfgfile.LoadKeyValue(file)
	if err != nil {
		return err
	}
	kv.Set("hostname", host)
	if err := kv.Save(); err != nil {
		return err
	}

	file, err = resolve(root, "etc/hostname")
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, []byte(host+"\n"), cfgfile.DefaultPermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}

	file, err = resolve(root, "etc/hosts")
	if err != nil {
		return err
	}
	hosts, err := cfgfile.LoadLines(file)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("127.0.0.1\t%s %s localhost", fqdn, host)
	if hosts.Replace(cfgfile.HasFields("127.0.0.1"), line) == 0 {
		hosts.Append(line)
	}
	return hosts.Save()
}

func (p *Personalizer) packageFlags(root string) error {
	pc := p.cfg.Portage()
	if len(pc.Use) == 0 && len(pc.Keywords) == 0 {
		return nil
	}
	p.log.Debug("Applying portage USEs and keywords...")

	if len(pc.Use) > 0 {
		if err := writePackageFlags(root, "etc/portage/package.use", pc.Use); err != nil {
			return err
		}
	}

	if len(pc.Keywords) > 0 {
		name := "etc/portage/package.accept_keywords"
		// Older stages only know the legacy name.
		legacy, err := resolve(root, "etc/portage/package.keywords")
		if err != nil {
			return err
		}
		current, err := resolve(root, name)
		if err != nil {
			return err
		}
		if exists(legacy) && !exists(current) {
			name = "etc/portage/package.keywords"
		}
		if err := writePackageFlags(root, name, pc.Keywords); err != nil {
			return err
		}
	}
	return nil
}

// writePackageFlags sets one "<package> <flags>" line per entry. When rel is
// a directory the entries go to a file of our own inside it.
func writePackageFlags(root, rel string, entries []config.PackageFlags) error {
	file, err := resolve(root, rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(file); err == nil && info.IsDir() {
		file = filepath.Join(file, PortageFile)
	}
	if err := ensureDir(file); err != nil {
		return err
	}

	lines, err := cfgfile.LoadLines(file)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := e.Package + " " + e.Flags
		if lines.Replace(cfgfile.HasFields(e.Package), line) == 0 {
			lines.Append(line)
		}
	}
	return lines.Save()
}

func (p *Personalizer) makeConf(root string) error {
	p.log.Debug("Applying make.conf settings...")

	file, err := resolve(root, "etc/portage/make.conf")
	if err != nil {
		return err
	}
	if err := ensureDir(file); err != nil {
		return err
	}
	kv, err := cfgfile.LoadKeyValue(file)
	if err != nil {
		return err
	}

	for _, s := range p.cfg.Portage().MakeConf {
		kv.Set(s.Key, s.Value)
	}
	if _, ok := kv.Get(config.MirrorsVariable); !ok {
		kv.Set(config.MirrorsVariable, strings.Join(p.cfg.Bootstrap().Mirrors, " "))
	}
	if err := kv.Save(); err != nil {
		return err
	}

	for _, key := range []string{"DISTDIR", "PKGDIR"} {
		dir, ok := kv.Get(key)
		// Values built from other variables cannot be resolved here.
		if !ok || dir == "" || strings.Contains(dir, "$") {
			continue
		}
		target, err := resolve(root, dir)
		if err != nil {
			return err
		}
		p.log.Debugf("Creating %s %s", key, dir)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (p *Personalizer) network(root string) error {
	static := p.cfg.Network().Static
	if static == nil {
		p.log.Debug("Using DHCP, leaving network configuration alone")
		return nil
	}
	p.log.Debug("Setting up network configuration")

	file, err := resolve(root, "etc/conf.d/net")
	if err != nil {
		return err
	}
	if err := ensureDir(file); err != nil {
		return err
	}
	kv, err := cfgfile.LoadKeyValue(file)
	if err != nil {
		return err
	}
	kv.Set("config_"+GuestInterface, static.Address)
	kv.Set("routes_"+GuestInterface, "default via "+static.Gateway)
	if err := kv.Save(); err != nil {
		return err
	}

	file, err = resolve(root, "etc/resolv.conf")
	if err != nil {
		return err
	}
	resolv, err := cfgfile.LoadLines(file)
	if err != nil {
		return err
	}
	if static.Domain != "" {
		resolv.Remove(cfgfile.HasFields("domain"))
		resolv.Append("domain " + static.Domain)
	}
	if static.Search != "" {
		resolv.Remove(cfgfile.HasFields("search"))
		resolv.Append("search " + static.Search)
	}
	for _, server := range static.DNSServers {
		resolv.AppendMissing("nameserver " + server)
	}
	return resolv.Save()
}

func (p *Personalizer) timezone(root string) error {
	tz := p.cfg.System().Timezone
	if tz == "" {
		return nil
	}

	file, err := resolve(root, "etc/timezone")
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, []byte(tz+"\n"), cfgfile.DefaultPermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}

	zone := path.Join(ZoneinfoDir, tz)
	zoneFile, err := resolve(root, zone)
	if err != nil {
		return err
	}
	if !exists(zoneFile) {
		p.log.Warnf("Zoneinfo file %s does not exist", zone)
		return nil
	}

	localtime, err := resolveParent(root, "etc/localtime")
	if err != nil {
		return err
	}
	if err := os.Remove(localtime); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", localtime, err)
	}
	if err := os.Symlink(zone, localtime); err != nil {
		return fmt.Errorf("failed to link %s: %w", localtime, err)
	}
	return nil
}

func (p *Personalizer) authorizedKeys(root string) error {
	keys := p.cfg.System().SSHKeys
	if len(keys) == 0 {
		return nil
	}
	p.log.Debugf("Installing %d SSH key(s) for root", len(keys))

	dir, err := resolve(root, "root/.ssh")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", dir, err)
	}

	file := filepath.Join(dir, "authorized_keys")
	lines, err := cfgfile.LoadLines(file)
	if err != nil {
		return err
	}
	for _, k := range keys {
		lines.AppendMissing(strings.TrimSpace(k))
	}
	if err := lines.Save(); err != nil {
		return err
	}
	if err := os.Chmod(file, 0600); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", file, err)
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
