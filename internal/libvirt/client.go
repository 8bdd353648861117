package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the libvirtd socket of the local system connection.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	// DefaultTimeout bounds dialing the socket.
	DefaultTimeout = 5 * time.Second
)

// Client is a connection to the local libvirt daemon.
type Client struct {
	libvirt *libvirt.Libvirt
}

// Connect dials libvirtd. Empty socketPath and zero timeout select the
// defaults. The Client must be closed.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l}, nil
}

// ConnectWithContext is Connect that gives up when ctx is done.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// A connection that completes later is closed by nobody; the process
		// is about to exit anyway.
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close disconnects. Calling it more than once is safe.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping checks that the connection is alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}

// Version returns the libvirt library version as major.minor.release.
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}
	return FormatVersion(v), nil
}

// FormatVersion renders libvirt's packed version number
// (major*1000000 + minor*1000 + release).
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

// DomainLookup is the lookup operation DomainExists needs.
type DomainLookup interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
}

// DomainExists reports whether l knows a domain called name. Lookup failures
// other than "no such domain" are returned.
func DomainExists(l DomainLookup, name string) (bool, error) {
	_, err := l.DomainLookupByName(name)
	if err == nil {
		return true, nil
	}
	if libvirt.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up domain %s: %w", name, err)
}

// DomainExists reports whether a domain called name is defined.
func (c *Client) DomainExists(name string) (bool, error) {
	if c.libvirt == nil {
		return false, fmt.Errorf("client not connected")
	}
	return DomainExists(c.libvirt, name)
}

// DefineDomain defines (but does not start) the domain described by xml.
func (c *Client) DefineDomain(xml string) error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}
	if _, err := c.libvirt.DomainDefineXML(xml); err != nil {
		return fmt.Errorf("failed to define domain: %w", err)
	}
	return nil
}
