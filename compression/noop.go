package compression

import "io"

// Noop is the identity codec: chunk blobs are stored uncompressed (spec
// section 4.3, step 3) so they can be fetched by range with a plain seek.
type Noop struct{}

func (Noop) Name() string            { return "" }
func (Noop) ExtensionSuffix() string { return "" }
func (Noop) IsIdentity() bool        { return true }

func (Noop) NewCompressor(w io.WriteSeeker) (Compressor, error) {
	return &noopCompressor{w: w}, nil
}

func (Noop) NewDecompressor(r io.ReadSeeker) (Decompressor, error) {
	return &noopDecompressor{r: r}, nil
}

type noopCompressor struct{ w io.WriteSeeker }

func (c *noopCompressor) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *noopCompressor) End() error                  { return nil }

type noopDecompressor struct{ r io.ReadSeeker }

func (d *noopDecompressor) Read(p []byte) (int, error)     { return d.r.Read(p) }
func (d *noopDecompressor) Seek(o int64, w int) (int64, error) { return d.r.Seek(o, w) }
func (d *noopDecompressor) Close() error                   { return nil }

func (d *noopDecompressor) UncompressedLength() (uint64, error) {
	cur, err := d.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := d.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := d.r.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return uint64(end), nil
}
