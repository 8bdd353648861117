package archive

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies the outer compression of a tarball.
type Compression string

const (
	None  Compression = "none"
	Xz    Compression = "xz"
	Bzip2 Compression = "bzip2"
	Gzip  Compression = "gzip"
	Zstd  Compression = "zstd"
)

var magics = []struct {
	compression Compression
	magic       []byte
}{
	{Xz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{Zstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{Gzip, []byte{0x1f, 0x8b}},
	{Bzip2, []byte{'B', 'Z', 'h'}},
}

// Detect reports the compression of the stream by its magic bytes. Anything
// unrecognized is treated as an uncompressed tar.
func Detect(r *bufio.Reader) Compression {
	head, _ := r.Peek(6)
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			return m.compression
		}
	}
	return None
}

// Decompress wraps r with the decoder for its detected compression. The
// returned closer releases decoder resources and does not close r.
func Decompress(r io.Reader) (io.Reader, Compression, func(), error) {
	br := bufio.NewReaderSize(r, 64*1024)
	c := Detect(br)
	nop := func() {}

	switch c {
	case Xz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, c, nop, fmt.Errorf("failed to open xz stream: %w", err)
		}
		return xr, c, nop, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, c, nop, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr, c, zr.Close, nil
	case Gzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, c, nop, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gr, c, func() { _ = gr.Close() }, nil
	case Bzip2:
		return bzip2.NewReader(br), c, nop, nil
	default:
		return br, c, nop, nil
	}
}
