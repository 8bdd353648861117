// Package archive unpacks root filesystem tarballs.
//
// Stage archives carry device nodes, setuid binaries, numeric ownership and
// extended attributes (file capabilities), all of which are restored when
// running as root. Every entry is confined to the destination directory:
// absolute names and names with ".." are rejected, and symlinks already
// extracted are resolved inside the destination rather than on the host.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jbweber/kiln/internal/logging"
)

// xattrPrefix marks extended attributes in PAX records.
const xattrPrefix = "SCHILY.xattr."

// ErrUnsafePath is returned for entries that would land outside the
// destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Options control extraction.
type Options struct {
	// SameOwner restores numeric ownership and creates device nodes. It
	// needs root.
	SameOwner bool
	Log       logrus.FieldLogger
}

// DefaultOptions restores ownership when running as root.
func DefaultOptions(log logrus.FieldLogger) Options {
	return Options{SameOwner: os.Geteuid() == 0, Log: log}
}

// Extract unpacks the archive at archivePath into dest, which must exist.
func Extract(ctx context.Context, archivePath, dest string, opts Options) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ExtractReader(ctx, f, dest, opts)
}

// ExtractReader unpacks a possibly compressed tar stream into dest.
func ExtractReader(ctx context.Context, r io.Reader, dest string, opts Options) error {
	log := logging.OrDiscard(opts.Log)

	dest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dest, err)
	}

	stream, compression, closeStream, err := Decompress(r)
	if err != nil {
		return err
	}
	defer closeStream()
	log.Debugf("Extracting %s compressed archive into %s", compression, dest)

	x := &extractor{dest: dest, opts: opts, log: log}
	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		if err := x.entry(hdr, tr); err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
	}

	// Directory modes and times last, deepest first: filling a directory
	// touches its mtime, and a read-only directory could not be filled.
	// Paths are resolved again and skipped unless still a directory, since a
	// later entry may have replaced one with a symlink.
	for i := len(x.dirs) - 1; i >= 0; i-- {
		hdr := x.dirs[i]
		target, err := x.target(hdr.Name)
		if err != nil {
			return err
		}
		info, err := os.Lstat(target)
		if err != nil || !info.IsDir() {
			log.Debugf("Skipping metadata for %s: no longer a directory", hdr.Name)
			continue
		}
		if err := os.Chmod(target, permBits(hdr)); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", target, err)
		}
		x.setTimes(target, hdr)
	}

	return nil
}

type extractor struct {
	dest string
	opts Options
	log  logrus.FieldLogger
	// dirs holds directory headers whose metadata is applied last.
	dirs []*tar.Header
}

// clean validates an archive-relative name and returns it cleaned.
func clean(name string) (string, error) {
	if path.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	return path.Clean(name), nil
}

// target resolves name to a host path. Parent directories are resolved
// through symlinks scoped to dest; the final component is not followed.
func (x *extractor) target(name string) (string, error) {
	rel, err := clean(name)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return x.dest, nil
	}

	parent, err := securejoin.SecureJoin(x.dest, path.Dir(rel))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	return filepath.Join(parent, path.Base(rel)), nil
}

func (x *extractor) entry(hdr *tar.Header, r io.Reader) error {
	target, err := x.target(hdr.Name)
	if err != nil {
		return err
	}

	if hdr.Typeflag != tar.TypeDir {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := removeExisting(target); err != nil {
			return err
		}
	}

	mode := hdr.FileInfo().Mode()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if info, err := os.Lstat(target); err == nil && !info.IsDir() {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		x.dirs = append(x.dirs, hdr)

	case tar.TypeReg, tar.TypeRegA: //nolint:staticcheck // old archives still use TypeRegA
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, r); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

	case tar.TypeSymlink:
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return err
		}

	case tar.TypeLink:
		// The link names the entry itself, so a symlink is linked, not its
		// target.
		source, err := x.target(hdr.Linkname)
		if err != nil {
			return err
		}
		if err := os.Link(source, target); err != nil {
			return err
		}
		// A hard link shares its inode; metadata came with the original.
		return nil

	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		if hdr.Typeflag != tar.TypeFifo && !x.opts.SameOwner {
			x.log.Debugf("Skipping device node %s (not running as root)", hdr.Name)
			return nil
		}
		var kind uint32
		switch hdr.Typeflag {
		case tar.TypeChar:
			kind = unix.S_IFCHR
		case tar.TypeBlock:
			kind = unix.S_IFBLK
		default:
			kind = unix.S_IFIFO
		}
		dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
		if err := unix.Mknod(target, kind|uint32(mode.Perm()), int(dev)); err != nil {
			return err
		}

	case tar.TypeXGlobalHeader:
		return nil

	default:
		x.log.Warnf("Skipping %s: unsupported entry type %q", hdr.Name, hdr.Typeflag)
		return nil
	}

	return x.setMetadata(target, hdr)
}

func (x *extractor) setMetadata(target string, hdr *tar.Header) error {
	symlink := hdr.Typeflag == tar.TypeSymlink

	if x.opts.SameOwner {
		if err := unix.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			return fmt.Errorf("failed to chown: %w", err)
		}
	}

	// chown clears setuid bits, so the mode goes on afterwards.
	if !symlink && hdr.Typeflag != tar.TypeDir {
		if err := os.Chmod(target, permBits(hdr)); err != nil {
			return fmt.Errorf("failed to chmod: %w", err)
		}
	}

	for key, value := range hdr.PAXRecords {
		if !strings.HasPrefix(key, xattrPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, xattrPrefix)
		if err := unix.Lsetxattr(target, name, []byte(value), 0); err != nil {
			x.log.Debugf("Could not set xattr %s on %s: %v", name, target, err)
		}
	}

	if hdr.Typeflag != tar.TypeDir {
		x.setTimes(target, hdr)
	}
	return nil
}

func (x *extractor) setTimes(target string, hdr *tar.Header) {
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = hdr.ModTime
	}
	ts := []unix.Timespec{toTimespec(atime), toTimespec(hdr.ModTime)}

	if err := unix.UtimesNanoAt(unix.AT_FDCWD, target, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		x.log.Debugf("Could not set times on %s: %v", target, err)
	}
}

func permBits(hdr *tar.Header) fs.FileMode {
	return hdr.FileInfo().Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
}

func toTimespec(t time.Time) unix.Timespec {
	ts, _ := unix.TimeToTimespec(t)
	return ts
}

// removeExisting clears the way for a non-directory entry.
func removeExisting(target string) error {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(target)
	}
	return os.Remove(target)
}
