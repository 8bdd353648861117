package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name     string
	typeflag byte
	mode     int64
	body     string
	linkname string
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     e.mode,
			Size:     int64(len(e.body)),
			Linkname: e.linkname,
			ModTime:  mtime,
			Format:   tar.FormatPAX,
		}
		if e.typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch c {
	case None:
		return data
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Xz:
		w, err = xz.NewWriter(&buf)
	case Zstd:
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("no writer for %s", c)
	}
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var stageEntries = []tarEntry{
	{name: "./", typeflag: tar.TypeDir, mode: 0755},
	{name: "./etc/", typeflag: tar.TypeDir, mode: 0755},
	{name: "./etc/locale.gen", typeflag: tar.TypeReg, mode: 0644, body: "# locales\n"},
	{name: "./usr/bin/", typeflag: tar.TypeDir, mode: 0755},
	{name: "./usr/bin/su", typeflag: tar.TypeReg, mode: 04711, body: "#!/bin/sh\n"},
	{name: "./bin", typeflag: tar.TypeSymlink, linkname: "usr/bin"},
	{name: "./usr/bin/su-link", typeflag: tar.TypeLink, linkname: "./usr/bin/su"},
	{name: "./proc/", typeflag: tar.TypeDir, mode: 0555},
	{name: "./ro/", typeflag: tar.TypeDir, mode: 0555},
	{name: "./ro/inside", typeflag: tar.TypeReg, mode: 0600, body: "x"},
}

func TestExtract_Compressions(t *testing.T) {
	raw := buildTar(t, stageEntries)

	for _, c := range []Compression{None, Gzip, Xz, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "stage3.tar")
			if err := os.WriteFile(archive, compress(t, c, raw), 0644); err != nil {
				t.Fatal(err)
			}

			f, err := os.Open(archive)
			if err != nil {
				t.Fatal(err)
			}
			if got := Detect(bufio.NewReader(f)); got != c {
				t.Errorf("Detect() = %s, want %s", got, c)
			}
			_ = f.Close()

			dest := filepath.Join(dir, "root")
			if err := os.Mkdir(dest, 0755); err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = os.Chmod(filepath.Join(dest, "ro"), 0755) })
			if err := Extract(context.Background(), archive, dest, Options{}); err != nil {
				t.Fatalf("Extract() error = %v", err)
			}

			data, err := os.ReadFile(filepath.Join(dest, "etc", "locale.gen"))
			if err != nil || string(data) != "# locales\n" {
				t.Errorf("locale.gen = %q, %v", data, err)
			}

			info, err := os.Stat(filepath.Join(dest, "usr", "bin", "su"))
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode()&os.ModeSetuid == 0 || info.Mode().Perm() != 0711 {
				t.Errorf("su mode = %v, want setuid 0711", info.Mode())
			}
			if !info.ModTime().Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
				t.Errorf("su mtime = %v", info.ModTime())
			}

			link, err := os.Readlink(filepath.Join(dest, "bin"))
			if err != nil || link != "usr/bin" {
				t.Errorf("bin symlink = %q, %v", link, err)
			}

			linked, err := os.Stat(filepath.Join(dest, "usr", "bin", "su-link"))
			if err != nil || !os.SameFile(info, linked) {
				t.Errorf("expected su-link to be a hard link of su: %v", err)
			}

			proc, err := os.Stat(filepath.Join(dest, "proc"))
			if err != nil || proc.Mode().Perm() != 0555 {
				t.Errorf("proc mode = %v, %v", proc.Mode(), err)
			}
			if _, err := os.Stat(filepath.Join(dest, "ro", "inside")); err != nil {
				t.Errorf("expected file inside read-only directory: %v", err)
			}
		})
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{
			name:    "parent reference",
			entries: []tarEntry{{name: "../evil", typeflag: tar.TypeReg, mode: 0644, body: "x"}},
		},
		{
			name:    "nested parent reference",
			entries: []tarEntry{{name: "./etc/../../evil", typeflag: tar.TypeReg, mode: 0644, body: "x"}},
		},
		{
			name:    "absolute path",
			entries: []tarEntry{{name: "/etc/evil", typeflag: tar.TypeReg, mode: 0644, body: "x"}},
		},
		{
			name: "hard link outside",
			entries: []tarEntry{
				{name: "./link", typeflag: tar.TypeLink, linkname: "../../etc/passwd"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "root")
			if err := os.Mkdir(dest, 0755); err != nil {
				t.Fatal(err)
			}

			err := ExtractReader(context.Background(), bytes.NewReader(buildTar(t, tt.entries)), dest, Options{})
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("expected ErrUnsafePath, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(parent, "evil")); err == nil {
				t.Error("file written outside destination")
			}
		})
	}
}

func TestExtract_SymlinkStaysInside(t *testing.T) {
	tests := []struct {
		name    string
		entries func(outside string) []tarEntry
		check   func(t *testing.T, dest, outside string)
	}{
		{
			name: "file through symlinked parent",
			entries: func(outside string) []tarEntry {
				return []tarEntry{
					{name: "escape", typeflag: tar.TypeSymlink, linkname: outside},
					{name: "escape/pwned", typeflag: tar.TypeReg, mode: 0644, body: "x"},
				}
			},
			check: func(t *testing.T, dest, outside string) {
				if _, err := os.Stat(filepath.Join(outside, "pwned")); err == nil {
					t.Fatal("symlink let an entry escape the destination")
				}
				if _, err := os.Stat(filepath.Join(dest, outside, "pwned")); err != nil {
					t.Errorf("expected the entry under the destination: %v", err)
				}
			},
		},
		{
			name: "directory replaced by symlink",
			entries: func(outside string) []tarEntry {
				return []tarEntry{
					{name: "a/", typeflag: tar.TypeDir, mode: 0700},
					{name: "a", typeflag: tar.TypeSymlink, linkname: outside},
				}
			},
			check: func(t *testing.T, dest, outside string) {
				info, err := os.Stat(outside)
				if err != nil {
					t.Fatal(err)
				}
				if got := info.Mode().Perm(); got != 0755 {
					t.Errorf("outside directory mode = %o, want 755", got)
				}
				if target, err := os.Readlink(filepath.Join(dest, "a")); err != nil || target != outside {
					t.Errorf("Readlink(a) = %q, %v; want %q", target, err, outside)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "root")
			outside := filepath.Join(parent, "outside")
			for _, d := range []string{dest, outside} {
				if err := os.Mkdir(d, 0755); err != nil {
					t.Fatal(err)
				}
			}
			// Mkdir is subject to the umask.
			if err := os.Chmod(outside, 0755); err != nil {
				t.Fatal(err)
			}

			data := buildTar(t, tt.entries(outside))
			if err := ExtractReader(context.Background(), bytes.NewReader(data), dest, Options{}); err != nil {
				t.Fatalf("ExtractReader() error = %v", err)
			}
			tt.check(t, dest, outside)
		})
	}
}

func TestExtract_HardLinkToSymlink(t *testing.T) {
	dest := t.TempDir()
	entries := []tarEntry{
		{name: "file", typeflag: tar.TypeReg, mode: 0644, body: "x"},
		{name: "sym", typeflag: tar.TypeSymlink, linkname: "file"},
		{name: "hard", typeflag: tar.TypeLink, linkname: "sym"},
	}
	if err := ExtractReader(context.Background(), bytes.NewReader(buildTar(t, entries)), dest, Options{}); err != nil {
		t.Fatalf("ExtractReader() error = %v", err)
	}

	info, err := os.Lstat(filepath.Join(dest, "hard"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("hard link mode = %v, want a symlink", info.Mode())
	}
}

func TestExtract_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ExtractReader(ctx, bytes.NewReader(buildTar(t, stageEntries)), t.TempDir(), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtract_CorruptArchive(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(archive, []byte{0x1f, 0x8b, 0x00, 0x01}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(context.Background(), archive, t.TempDir(), Options{}); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}
