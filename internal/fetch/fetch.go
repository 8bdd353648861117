// Package fetch downloads the stage and package tree archives from a list of
// mirrors into a local cache.
//
// Mirrors are tried in order; a mirror that fails for any reason is logged
// and the next one is tried. Downloads are conditional when the cache already
// holds a copy (see internal/metadata), and land in a ".part" file that is
// renamed into place only when complete.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	rh "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/metadata"
)

const (
	// PortageSnapshot is the package tree snapshot path below a mirror.
	PortageSnapshot = "snapshots/portage-latest.tar.xz"

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "kiln"
)

// ClientOptions configure the HTTP client.
type ClientOptions struct {
	// Timeout bounds connecting, the TLS handshake, waiting for response
	// headers and each read of the body. A download as a whole may take
	// longer as long as data keeps arriving.
	Timeout time.Duration
	// Retries per request; mirror fallback happens after these are spent.
	Retries int
	Log     logrus.FieldLogger
}

// NewClient returns a retrying HTTP client that hands every final response
// back to the caller, so status handling stays in one place.
func NewClient(opts ClientOptions) *rh.Client {
	client := rh.NewClient()
	client.RetryMax = opts.Retries
	client.Logger = logging.NewLeveledLogger(opts.Log)
	client.ErrorHandler = rh.PassthroughErrorHandler
	if transport, ok := client.HTTPClient.Transport.(*http.Transport); ok && opts.Timeout > 0 {
		dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &idleConn{Conn: conn, timeout: opts.Timeout}, nil
		}
		transport.TLSHandshakeTimeout = opts.Timeout
		transport.ResponseHeaderTimeout = opts.Timeout
	}
	return client
}

// idleConn fails a read that waits longer than timeout for data.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// Fetcher downloads archives from mirrors into a cache directory.
type Fetcher struct {
	mirrors   []string
	cacheDir  string
	client    *rh.Client
	log       logrus.FieldLogger
	userAgent string
	now       func() time.Time
}

// New returns a Fetcher. Mirrors are base URLs without a trailing slash.
func New(mirrors []string, cacheDir string, client *rh.Client, log logrus.FieldLogger) *Fetcher {
	if client == nil {
		client = NewClient(ClientOptions{Log: log})
	}
	return &Fetcher{
		mirrors:   mirrors,
		cacheDir:  cacheDir,
		client:    client,
		log:       logging.OrDiscard(log),
		userAgent: DefaultUserAgent,
		now:       time.Now,
	}
}

// SetUserAgent overrides the User-Agent header.
func (f *Fetcher) SetUserAgent(ua string) {
	f.userAgent = ua
}

// Stage3IndexName returns the name of the file pointing at the newest stage3
// of arch, optionally for a variant such as "openrc".
//
// Format: latest-stage3-{arch}[-{variant}].txt
func Stage3IndexName(arch, variant string) string {
	if variant != "" {
		return fmt.Sprintf("latest-stage3-%s-%s.txt", arch, variant)
	}
	return fmt.Sprintf("latest-stage3-%s.txt", arch)
}

// FetchStage3 resolves and downloads the newest stage3 archive of arch and
// returns its cache path.
func (f *Fetcher) FetchStage3(ctx context.Context, arch, variant string) (string, error) {
	return f.eachMirror(ctx, "stage3", func(mirror string) (string, error) {
		base := fmt.Sprintf("%s/releases/%s/autobuilds", mirror, arch)

		index, err := f.get(ctx, base+"/"+Stage3IndexName(arch, variant))
		if err != nil {
			return "", err
		}
		rel, err := ParseIndex(index)
		if err != nil {
			return "", err
		}

		return f.Download(ctx, base+"/"+rel)
	})
}

// FetchPortage downloads the latest package tree snapshot and returns its
// cache path.
func (f *Fetcher) FetchPortage(ctx context.Context) (string, error) {
	return f.eachMirror(ctx, "portage snapshot", func(mirror string) (string, error) {
		return f.Download(ctx, mirror+"/"+PortageSnapshot)
	})
}

func (f *Fetcher) eachMirror(ctx context.Context, what string, fn func(mirror string) (string, error)) (string, error) {
	if len(f.mirrors) == 0 {
		return "", errdefs.FetchExhausted("no mirrors configured for %s", what)
	}

	for _, mirror := range f.mirrors {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		f.log.WithField("mirror", mirror).Infof("Fetching %s from %s", what, mirror)
		p, err := fn(mirror)
		if err == nil {
			return p, nil
		}
		f.log.WithField("mirror", mirror).Errorf("Failed to fetch %s from %s: %v", what, mirror, err)
	}

	return "", errdefs.FetchExhausted("could not fetch %s from any of %s", what, strings.Join(f.mirrors, ", "))
}

// get returns the body of a small text resource.
func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	resp, err := f.do(ctx, url, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(body), nil
}

func (f *Fetcher) do(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := rh.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return resp, nil
}

// Download fetches url into the cache unless the cached copy is still
// current, and returns the cache path.
func (f *Fetcher) Download(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	cacheFile := filepath.Join(f.cacheDir, path.Base(url))
	log := f.log.WithField("url", url)
	log.Debugf("Cache file: %s", cacheFile)

	rec, err := metadata.Load(cacheFile)
	if err != nil {
		log.Warnf("Ignoring cache record: %v", err)
		rec = nil
	}

	header := http.Header{}
	if rec != nil && rec.URL == url {
		if rec.LastModified != "" {
			log.Debugf("Last-Modified: %s", rec.LastModified)
			header.Set("If-Modified-Since", rec.LastModified)
		}
		if rec.ETag != "" {
			log.Debugf("ETag: %s", rec.ETag)
			header.Set("If-None-Match", rec.ETag)
		}
	}

	resp, err := f.do(ctx, url, header)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if rec == nil {
			return "", fmt.Errorf("GET %s: not modified, but nothing is cached", url)
		}
		log.Infof("Not modified, using cached %s", cacheFile)
		return cacheFile, nil
	case http.StatusOK:
	default:
		return "", fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	n, err := writeAtomic(cacheFile, resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	log.Infof("Downloaded %d bytes to %s", n, cacheFile)

	newRec := &metadata.Record{
		URL:          url,
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
		FetchedAt:    f.now().UTC(),
		Size:         n,
	}
	if err := metadata.Store(cacheFile, newRec); err != nil {
		// The file is good; only the next download loses its validators.
		log.Warnf("Failed to store cache record: %v", err)
	}

	return cacheFile, nil
}

// writeAtomic streams r into dst via dst.part.
func writeAtomic(dst string, r io.Reader) (int64, error) {
	part := dst + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return n, err
	}

	// The old record belongs to the old file.
	if err := metadata.Delete(dst); err != nil {
		_ = os.Remove(part)
		return n, err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return n, err
	}
	return n, nil
}

// ErrBadIndex is returned for a stage3 index that does not name exactly one
// archive.
var ErrBadIndex = errors.New("malformed stage3 index")

// ParseIndex extracts the archive path from a latest-stage3 index. The index
// may be clearsigned; comments, blank lines and everything after the first
// field of a line (the size) are ignored.
func ParseIndex(content string) (string, error) {
	var paths []string
	inHeader, inSignature := false, false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case line == "-----BEGIN PGP SIGNED MESSAGE-----":
			inHeader = true
			continue
		case line == "-----BEGIN PGP SIGNATURE-----":
			inSignature = true
			continue
		case line == "-----END PGP SIGNATURE-----":
			inSignature = false
			continue
		case inSignature:
			continue
		case inHeader:
			// Armor headers ("Hash: SHA512") end at the first blank line.
			if line == "" {
				inHeader = false
			}
			continue
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		}

		paths = append(paths, strings.Fields(line)[0])
	}

	if len(paths) != 1 {
		return "", fmt.Errorf("%w: expected exactly one archive, found %d", ErrBadIndex, len(paths))
	}
	if strings.HasPrefix(paths[0], "/") || strings.Contains(paths[0], "..") {
		return "", fmt.Errorf("%w: unsafe archive path %q", ErrBadIndex, paths[0])
	}
	return paths[0], nil
}
