package libvirt

import (
	"fmt"
	"strings"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/kiln/internal/xen"
)

// DiskBus is the bus of every paravirtual disk.
const DiskBus = "xen"

// Cmdline returns the kernel command line of d: the root device followed by
// the configured extra arguments.
func Cmdline(d xen.Domain) string {
	return strings.TrimSpace("root=" + d.Root + " " + d.Extra)
}

// GenerateDomainXML renders d as a paravirtualized Xen domain.
func GenerateDomainXML(d xen.Domain) (string, error) {
	if d.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if d.VCPUs <= 0 || d.Memory <= 0 {
		return "", fmt.Errorf("domain %s: vcpus and memory must be > 0", d.Name)
	}

	domain := &libvirtxml.Domain{
		Type: "xen",
		Name: d.Name,
		UUID: d.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(d.Memory),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(d.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Type: "linux",
			},
			Kernel:  d.Kernel,
			Cmdline: Cmdline(d),
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{},
	}

	for _, disk := range d.Disks {
		domain.Devices.Disks = append(domain.Devices.Disks, diskXML(disk))
	}

	domain.Devices.Interfaces = []libvirtxml.DomainInterface{
		{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: d.MAC,
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{
					Bridge: d.Bridge,
				},
			},
		},
	}

	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "xen",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func diskXML(disk xen.Disk) libvirtxml.DomainDisk {
	out := libvirtxml.DomainDisk{
		Device: "disk",
		Target: &libvirtxml.DomainDiskTarget{
			Dev: disk.Target(),
			Bus: DiskBus,
		},
	}

	if disk.Block {
		out.Driver = &libvirtxml.DomainDiskDriver{Name: "phy"}
		out.Source = &libvirtxml.DomainDiskSource{
			Block: &libvirtxml.DomainDiskSourceBlock{Dev: disk.Device},
		}
	} else {
		out.Driver = &libvirtxml.DomainDiskDriver{Name: "file"}
		out.Source = &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: disk.Device},
		}
	}
	return out
}
