package compression

import (
	"io"

	"github.com/klauspost/pgzip"
	"github.com/orcaman/writerseeker"
)

// Gzip wraps klauspost/pgzip, a parallel gzip implementation, for codec
// parity with plain .tar.gz-style layers produced by other OCI tooling.
// Like XZ, gzip carries no seek table, so random access is served from a
// fully materialized in-memory copy.
type Gzip struct{}

func NewGzip() Gzip { return Gzip{} }

func (Gzip) Name() string            { return "gzip" }
func (Gzip) ExtensionSuffix() string { return "+gzip" }
func (Gzip) IsIdentity() bool        { return false }

func (Gzip) NewCompressor(w io.WriteSeeker) (Compressor, error) {
	return &gzipCompressor{gw: pgzip.NewWriter(w)}, nil
}

type gzipCompressor struct {
	gw *pgzip.Writer
}

func (c *gzipCompressor) Write(p []byte) (int, error) { return c.gw.Write(p) }
func (c *gzipCompressor) End() error                  { return c.gw.Close() }

func (Gzip) NewDecompressor(r io.ReadSeeker) (Decompressor, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	gr, err := pgzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	var ws writerseeker.WriterSeeker
	if _, err := io.Copy(&ws, gr); err != nil {
		return nil, err
	}

	reader := ws.BytesReader()
	return &bufferedDecompressor{r: reader, size: uint64(reader.Len())}, nil
}
