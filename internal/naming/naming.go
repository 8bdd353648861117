// Package naming provides the naming conventions for provisioned guests:
// hostnames derived from FQDNs, Xen MAC addresses, generated root passwords,
// storage unit name templates and domain configuration file names.
package naming

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// XenOUI is the MAC prefix assigned to Xen guests.
const XenOUI = "00:16:3e"

// PasswordLength is the length of generated root passwords.
const PasswordLength = 20

const passwordChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Hostname returns the short hostname of an FQDN.
//
// Example: "web01.example.com" → "web01"
func Hostname(fqdn string) string {
	if i := strings.IndexByte(fqdn, '.'); i >= 0 {
		return fqdn[:i]
	}
	return fqdn
}

// GenerateMAC returns a random Xen MAC address read from r (crypto/rand when
// nil). The first random octet stays below 0x80.
//
// Format: 00:16:3e:XX:XX:XX
func GenerateMAC(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	b[0] &= 0x7f

	return fmt.Sprintf("%s:%02x:%02x:%02x", XenOUI, b[0], b[1], b[2]), nil
}

// GeneratePassword returns a random alphanumeric password of PasswordLength
// characters read from r (crypto/rand when nil).
func GeneratePassword(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	max := big.NewInt(int64(len(passwordChars)))
	var sb strings.Builder
	sb.Grow(PasswordLength)

	for i := 0; i < PasswordLength; i++ {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		sb.WriteByte(passwordChars[n.Int64()])
	}

	return sb.String(), nil
}

// Vars holds the values available to name templates.
type Vars struct {
	Name     string
	Hostname string
	FQDN     string
}

// Expand replaces {name}, {hostname} and {fqdn} in template. Unknown
// placeholders are an error so that typos don't end up in volume names.
//
// Example: "{name}-root" with Name "web01" → "web01-root"
func Expand(template string, v Vars) (string, error) {
	r := strings.NewReplacer(
		"{name}", v.Name,
		"{hostname}", v.Hostname,
		"{fqdn}", v.FQDN,
	)
	out := r.Replace(template)

	if i := strings.IndexByte(out, '{'); i >= 0 {
		if j := strings.IndexByte(out[i:], '}'); j > 0 {
			return "", fmt.Errorf("unknown placeholder %s in %q", out[i:i+j+1], template)
		}
	}

	return out, nil
}

// DomainConfigName returns the xl configuration file name for a guest.
// Format: {name}.cfg
func DomainConfigName(name string) string {
	return name + ".cfg"
}

// DomainXMLName returns the libvirt domain XML file name for a guest.
// Format: {name}.xml
func DomainXMLName(name string) string {
	return name + ".xml"
}
