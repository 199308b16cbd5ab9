// Package compression provides the pluggable codec abstraction spec
// section 4.3/9 calls for: a streaming compressor with an explicit end, and
// a seekable streaming decompressor that can also report the uncompressed
// length. Concrete codecs live alongside this file the way the teacher
// keeps comp.go (the registry) next to comp_zstd.go/comp_xz.go (the
// implementations), one file per codec.
package compression

import "io"

// Compressor streams plaintext in and writes compressed output; End must
// be called exactly once to flush any trailing frame/seek-table data.
type Compressor interface {
	io.Writer
	End() error
}

// Decompressor streams compressed input back out as plaintext, supporting
// random seeks into the *uncompressed* coordinate space (spec section 4).
type Decompressor interface {
	io.Reader
	io.Seeker
	io.Closer
	// UncompressedLength reports the total size of the decompressed
	// stream, without having to read it all.
	UncompressedLength() (uint64, error)
}

// Codec is the capability set spec section 9 asks for: compress, decompress,
// and a media-type extension suffix, passed around by reference rather than
// hardcoded into the blob store.
type Codec interface {
	// Name identifies the codec for logging/CLI selection.
	Name() string
	// ExtensionSuffix is appended to a blob's base media type, e.g. "+zstd".
	ExtensionSuffix() string
	// IsIdentity reports whether this codec performs no transformation;
	// the blob store uses this to decide a Descriptor's Compressed flag.
	IsIdentity() bool

	NewCompressor(w io.WriteSeeker) (Compressor, error)
	NewDecompressor(r io.ReadSeeker) (Decompressor, error)
}

// ByName returns the built-in codec registered under name, mirroring the
// teacher's RegisterCompHandler/comp.go lookup-by-enum pattern but keyed by
// string since puzzlefs media types already carry the codec name as a
// suffix.
func ByName(name string) (Codec, bool) {
	c, ok := registry[name]
	return c, ok
}

var registry = map[string]Codec{}

func register(c Codec) {
	registry[c.Name()] = c
}

func init() {
	register(Noop{})
	register(NewZstd())
	register(NewXZ())
	register(NewGzip())
}
