package xen

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/size"
)

func testDomain() Domain {
	return Domain{
		Name:   "web01",
		UUID:   "3f0c8a4e-5a7c-4c3e-9d41-2b7f1c6a9e10",
		Kernel: "/boot/vmlinuz-xen",
		Extra:  "console=hvc0",
		VCPUs:  2,
		Memory: 1024,
		Disks: []Disk{
			{Device: "/dev/vg0/web01-root", GuestDevice: "/dev/xvda1", Block: true},
			{Device: "/dev/vg0/web01-swap", GuestDevice: "/dev/xvda2", Block: true},
		},
		Root:   "/dev/xvda1",
		MAC:    "00:16:3e:12:34:56",
		Bridge: "br0",
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Domain)
		want   string
	}{
		{
			name: "full",
			want: `name = "web01"
uuid = "3f0c8a4e-5a7c-4c3e-9d41-2b7f1c6a9e10"
kernel = "/boot/vmlinuz-xen"
extra = "console=hvc0"
vcpus = 2
memory = 1024
disk = [ 'phy:/dev/vg0/web01-root,xvda1,w', 'phy:/dev/vg0/web01-swap,xvda2,w' ]
root = "/dev/xvda1"
vif = [ 'mac=00:16:3e:12:34:56,bridge=br0' ]
`,
		},
		{
			name: "no extra, single disk",
			mutate: func(d *Domain) {
				d.Extra = ""
				d.Disks = d.Disks[:1]
			},
			want: `name = "web01"
uuid = "3f0c8a4e-5a7c-4c3e-9d41-2b7f1c6a9e10"
kernel = "/boot/vmlinuz-xen"
vcpus = 2
memory = 1024
disk = [ 'phy:/dev/vg0/web01-root,xvda1,w' ]
root = "/dev/xvda1"
vif = [ 'mac=00:16:3e:12:34:56,bridge=br0' ]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDomain()
			if tt.mutate != nil {
				tt.mutate(&d)
			}
			if diff := cmp.Diff(tt.want, Render(d)); diff != "" {
				t.Errorf("Render() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWrite_NeverOverwrites(t *testing.T) {
	p := ConfigPath(t.TempDir(), "web01")

	if err := Write(p, testDomain()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	first, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}

	d := testDomain()
	d.Memory = 4096
	err = Write(p, d)
	if !errors.Is(err, errdefs.ErrResourceConflict) {
		t.Fatalf("expected ErrResourceConflict, got %v", err)
	}

	second, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("existing configuration was modified")
	}
}

func TestWrite_MissingDir(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "web01.cfg"), testDomain())
	if err == nil || errors.Is(err, errdefs.ErrResourceConflict) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	f, err := config.Defaults()
	if err != nil {
		t.Fatal(err)
	}
	f.System.Arch = "amd64"
	f.System.Kernel = "/boot/vmlinuz-xen"
	f.System.VCPU = 2
	f.Storage.Type = "filesystem"
	f.Storage.BaseDir = "/srv/kiln"
	f.Storage.Layouts = map[string][]config.UnitFile{
		"default": {{Name: "{name}-root", Size: 2 * size.Gigabyte, Filesystem: "ext4", Mount: "/"}},
	}
	f.Bootstrap.Mirrors = []string{"http://mirror.example.com/gentoo"}

	cfg, err := config.Resolve(f, config.Overrides{Name: "web01", FQDN: "web01.example.com"}, config.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	d := FromConfig(cfg)
	want := Domain{
		Name:   "web01",
		UUID:   cfg.UUID(),
		Kernel: "/boot/vmlinuz-xen",
		Extra:  "console=hvc0",
		VCPUs:  2,
		Memory: 1024,
		Disks:  []Disk{{Device: "/srv/kiln/web01-root", GuestDevice: "/dev/xvda1"}},
		Root:   "/dev/xvda1",
		MAC:    cfg.MAC(),
		Bridge: "br0",
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("FromConfig() mismatch (-want +got):\n%s", diff)
	}
}
