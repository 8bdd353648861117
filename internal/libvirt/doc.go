// Package libvirt registers provisioned guests with a local libvirt daemon.
//
// It wraps github.com/digitalocean/go-libvirt for the connection and renders
// the guest as a paravirtualized Xen domain with libvirt.org/go/libvirtxml.
//
// Connection Management:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Ping(); err != nil {
//	    return err
//	}
//
// Domain XML Generation:
//
//	xml, err := libvirt.GenerateDomainXML(xen.FromConfig(cfg))
//	if err != nil {
//	    return err
//	}
//
//	_, err = client.Libvirt().DomainDefineXML(xml)
//
// Consumers (internal/provision) define their own narrow interfaces over
// *libvirt.Libvirt, so tests substitute hand-written fakes.
package libvirt
