package libvirt

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/kiln/internal/xen"
)

func testDomain() xen.Domain {
	return xen.Domain{
		Name:   "web01",
		UUID:   "3f0c8a4e-5a7c-4c3e-9d41-2b7f1c6a9e10",
		Kernel: "/boot/vmlinuz-xen",
		Extra:  "console=hvc0",
		VCPUs:  2,
		Memory: 1024,
		Disks: []xen.Disk{
			{Device: "/dev/vg0/web01-root", GuestDevice: "/dev/xvda1", Block: true},
			{Device: "/srv/kiln/web01-data", GuestDevice: "/dev/xvdb"},
		},
		Root:   "/dev/xvda1",
		MAC:    "00:16:3e:12:34:56",
		Bridge: "br0",
	}
}

func TestGenerateDomainXML(t *testing.T) {
	out, err := GenerateDomainXML(testDomain())
	if err != nil {
		t.Fatalf("GenerateDomainXML() error = %v", err)
	}

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(out); err != nil {
		t.Fatalf("generated XML does not parse: %v\n%s", err, out)
	}

	if dom.Type != "xen" || dom.Name != "web01" || dom.UUID != "3f0c8a4e-5a7c-4c3e-9d41-2b7f1c6a9e10" {
		t.Errorf("unexpected header: type=%s name=%s uuid=%s", dom.Type, dom.Name, dom.UUID)
	}
	if dom.Memory == nil || dom.Memory.Value != 1024 || dom.Memory.Unit != "MiB" {
		t.Errorf("unexpected memory: %+v", dom.Memory)
	}
	if dom.VCPU == nil || dom.VCPU.Value != 2 {
		t.Errorf("unexpected vcpu: %+v", dom.VCPU)
	}
	if dom.OS == nil || dom.OS.Type == nil || dom.OS.Type.Type != "linux" {
		t.Fatalf("expected a paravirtualized OS section, got %+v", dom.OS)
	}
	if dom.OS.Kernel != "/boot/vmlinuz-xen" || dom.OS.Cmdline != "root=/dev/xvda1 console=hvc0" {
		t.Errorf("unexpected kernel %q cmdline %q", dom.OS.Kernel, dom.OS.Cmdline)
	}

	if len(dom.Devices.Disks) != 2 {
		t.Fatalf("expected 2 disks, got %d", len(dom.Devices.Disks))
	}
	root := dom.Devices.Disks[0]
	if root.Source.Block == nil || root.Source.Block.Dev != "/dev/vg0/web01-root" {
		t.Errorf("unexpected root source: %+v", root.Source)
	}
	if root.Target.Dev != "xvda1" || root.Target.Bus != "xen" {
		t.Errorf("unexpected root target: %+v", root.Target)
	}
	data := dom.Devices.Disks[1]
	if data.Source.File == nil || data.Source.File.File != "/srv/kiln/web01-data" {
		t.Errorf("unexpected data source: %+v", data.Source)
	}

	if len(dom.Devices.Interfaces) != 1 {
		t.Fatalf("expected 1 interface, got %d", len(dom.Devices.Interfaces))
	}
	iface := dom.Devices.Interfaces[0]
	if iface.MAC.Address != "00:16:3e:12:34:56" || iface.Source.Bridge.Bridge != "br0" {
		t.Errorf("unexpected interface: mac=%+v source=%+v", iface.MAC, iface.Source)
	}

	for _, elem := range []string{`<domain type="xen">`, `<interface type="bridge">`, `<console type="pty">`} {
		if !strings.Contains(out, elem) {
			t.Errorf("generated XML missing %s\n%s", elem, out)
		}
	}
}

func TestGenerateDomainXML_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *xen.Domain)
	}{
		{name: "no name", mutate: func(d *xen.Domain) { d.Name = "" }},
		{name: "no vcpus", mutate: func(d *xen.Domain) { d.VCPUs = 0 }},
		{name: "no memory", mutate: func(d *xen.Domain) { d.Memory = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDomain()
			tt.mutate(&d)
			if _, err := GenerateDomainXML(d); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCmdline(t *testing.T) {
	d := testDomain()
	d.Extra = ""
	if got := Cmdline(d); got != "root=/dev/xvda1" {
		t.Errorf("Cmdline() = %q", got)
	}
}
