package compression

import (
	"bytes"
	"io"

	"github.com/orcaman/writerseeker"
	"github.com/ulikunitz/xz"
)

// XZ wraps ulikunitz/xz. The format has no native seek table, so the
// decompressor pays for seekability by fully inflating the stream once
// into an in-memory writerseeker.WriterSeeker buffer and serving reads and
// seeks from there afterwards; fine for metadata-sized blobs, which is the
// only thing this codec is used for (spec section 4.3's chunk blobs always
// go through a seekable codec instead).
type XZ struct{}

func NewXZ() XZ { return XZ{} }

func (XZ) Name() string            { return "xz" }
func (XZ) ExtensionSuffix() string { return "+xz" }
func (XZ) IsIdentity() bool        { return false }

func (XZ) NewCompressor(w io.WriteSeeker) (Compressor, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &xzCompressor{xw: xw}, nil
}

type xzCompressor struct {
	xw *xz.Writer
}

func (c *xzCompressor) Write(p []byte) (int, error) { return c.xw.Write(p) }
func (c *xzCompressor) End() error                  { return c.xw.Close() }

func (XZ) NewDecompressor(r io.ReadSeeker) (Decompressor, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}

	var ws writerseeker.WriterSeeker
	if _, err := io.Copy(&ws, xr); err != nil {
		return nil, err
	}

	reader := ws.BytesReader()
	return &bufferedDecompressor{r: reader, size: uint64(reader.Len())}, nil
}

// bufferedDecompressor serves a fully materialized uncompressed buffer;
// used by codecs (xz, gzip) whose wire format has no native seek table.
type bufferedDecompressor struct {
	r    *bytes.Reader
	size uint64
}

func (b *bufferedDecompressor) Read(p []byte) (int, error)         { return b.r.Read(p) }
func (b *bufferedDecompressor) Seek(o int64, w int) (int64, error) { return b.r.Seek(o, w) }
func (b *bufferedDecompressor) Close() error                       { return nil }
func (b *bufferedDecompressor) UncompressedLength() (uint64, error) {
	return b.size, nil
}
