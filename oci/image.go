// Package oci implements the OCI-layout directory that backs a puzzlefs
// image: an on-disk blob store keyed by digest, plus the index mapping
// tag names to manifest descriptors.
package oci

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/digest"
	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/integrity"
)

// imageLayoutVersion is the literal oci-layout version string the Rust
// original writes and checks; it is not a semantic version, just a flat
// equality gate (spec section 4.4's "unknown version -> reject", applied
// here to the image layout itself rather than a wire-format blob).
const imageLayoutVersion = "puzzlefs-dev"

// Image is an OCI-layout directory open for reading and/or writing. dirFile
// is the directory handle opened once at New/Open time and held for the
// life of the Image; every blob open is resolved relative to it (an
// openat-style lookup, not a fresh path re-join), the way the Rust
// original's Image holds an openat::Dir across its lifetime (spec section 9,
// "directory-handle rooting").
type Image struct {
	dir     string
	dirFile *os.File
}

// New creates a fresh OCI-layout directory at dir, writing oci-layout and
// an empty index.json. dir must not already contain an image.
func New(dir string) (*Image, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs", "sha256"), 0o755); err != nil {
		return nil, format.Newf(format.IO, "creating blob directory: %v", err)
	}
	dirFile, err := os.Open(dir)
	if err != nil {
		return nil, format.Newf(format.IO, "opening oci directory: %v", err)
	}
	img := &Image{dir: dir, dirFile: dirFile}
	if err := img.writeLayout(); err != nil {
		img.Close()
		return nil, err
	}
	if err := img.putIndex(format.Index{}); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// Open opens an existing OCI-layout directory at dir, validating its
// layout version and holding a handle to dir for the image's lifetime.
func Open(dir string) (*Image, error) {
	dirFile, err := os.Open(dir)
	if err != nil {
		return nil, format.Newf(format.IO, "opening oci directory: %v", err)
	}
	img := &Image{dir: dir, dirFile: dirFile}
	raw, err := os.ReadFile(filepath.Join(dir, "oci-layout"))
	if err != nil {
		img.Close()
		return nil, format.Newf(format.IO, "reading oci-layout: %v", err)
	}
	var layout ispec.ImageLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		img.Close()
		return nil, format.Newf(format.InvalidImageVersion, "parsing oci-layout: %v", err)
	}
	if layout.Version != imageLayoutVersion {
		img.Close()
		return nil, format.Newf(format.InvalidImageVersion, "unexpected oci-layout version %q", layout.Version)
	}
	return img, nil
}

// Close releases the directory handle rooting this Image. Callers that hold
// an Image for the life of a process (the mount/build/extract commands) are
// not required to call it, but should when an Image's lifetime is scoped.
func (img *Image) Close() error {
	return img.dirFile.Close()
}

func (img *Image) writeLayout() error {
	raw, err := json.Marshal(ispec.ImageLayout{Version: imageLayoutVersion})
	if err != nil {
		return err
	}
	return img.writeFileAtomic(filepath.Join(img.dir, "oci-layout"), raw)
}

// writeFileAtomic writes data to path via a temp-file-then-rename on the
// same filesystem (google/renameio), the way put_blob must never leave a
// half-written file visible at its final name.
func (img *Image) writeFileAtomic(path string, data []byte) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return format.Newf(format.IO, "creating temp file for %s: %v", path, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return format.Newf(format.IO, "writing %s: %v", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return format.Newf(format.IO, "renaming into place %s: %v", path, err)
	}
	return nil
}

func (img *Image) blobPath(d digest.Digest) string {
	return filepath.Join(img.dir, "blobs", "sha256", d.String())
}

// PutBlob streams r through codec's compressor into a temp file inside the
// OCI directory, hashes the compressed bytes, and atomically places the
// result at blobs/sha256/<hex> (spec section 4.1). If a blob with that
// digest already exists, its content is re-hashed and compared; a mismatch
// is AlreadyExists, since digests are supposed to be collision-free.
//
// The final name is content-dependent and unknown until the digest is
// computed, so this uses a plain os.CreateTemp+os.Rename rather than
// renameio (whose rename target is bound at file-creation time); index.json
// and oci-layout, whose names are fixed up front, use renameio instead.
func (img *Image) PutBlob(r io.Reader, codec compression.Codec, mediaType string) (format.Descriptor, error) {
	blobDir := filepath.Join(img.dir, "blobs", "sha256")
	t, err := os.CreateTemp(blobDir, "put-blob-*")
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "creating temp blob file: %v", err)
	}
	tmpPath := t.Name()
	defer os.Remove(tmpPath)
	defer t.Close()

	hasher := digest.NewHasher()
	tee := io.MultiWriter(t, hasher)

	comp, err := codec.NewCompressor(nopWriteSeeker{tee})
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "starting compressor: %v", err)
	}
	if _, err := io.Copy(comp, r); err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "writing blob: %v", err)
	}
	if err := comp.End(); err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "finishing blob compression: %v", err)
	}
	if err := t.Close(); err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "closing temp blob file: %v", err)
	}

	dig := hasher.Sum()
	finalPath := img.blobPath(dig)

	if existing, err := os.ReadFile(finalPath); err == nil {
		if digest.FromBytes(existing) != dig {
			return format.Descriptor{}, format.Newf(format.AlreadyExists,
				"blob %s exists with different content", dig)
		}
		return img.describeExisting(finalPath, dig, mediaType, codec.IsIdentity())
	} else if !os.IsNotExist(err) {
		return format.Descriptor{}, format.Newf(format.IO, "checking existing blob: %v", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "renaming blob into place: %v", err)
	}

	return img.describeExisting(finalPath, dig, mediaType, codec.IsIdentity())
}

func (img *Image) describeExisting(path string, dig digest.Digest, mediaType string, identity bool) (format.Descriptor, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "stat blob: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "open blob for fingerprint: %v", err)
	}
	defer f.Close()
	fp, err := integrity.ComputeFingerprintFile(f)
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "fingerprinting blob: %v", err)
	}
	return format.Descriptor{
		Digest:         dig,
		Size:           uint64(fi.Size()),
		MediaType:      mediaType,
		FsVerityDigest: fp,
		Compressed:     !identity,
	}, nil
}

// nopWriteSeeker adapts an io.Writer (our compressed-bytes tee) to the
// io.WriteSeeker shape the Codec interface requires; blob compression here
// is purely sequential so Seek is never actually called.
type nopWriteSeeker struct{ io.Writer }

func (nopWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	return 0, format.New(format.UnsupportedOperation, "blob compression stream is not seekable")
}

// OpenRawBlob opens the blob file for d relative to the image's open
// directory handle and, if verify is non-nil, checks its fingerprint
// against *verify before returning (spec section 4.1).
func (img *Image) OpenRawBlob(d digest.Digest, verify *[32]byte) (*os.File, error) {
	f, err := openRelative(img.dirFile, filepath.Join("blobs", "sha256", d.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, format.Newf(format.NotFound, "blob %s not found", d)
		}
		return nil, format.Newf(format.IO, "opening blob %s: %v", d, err)
	}
	if verify != nil {
		if err := integrity.Verify(f, *verify); err != nil {
			f.Close()
			return nil, format.Newf(format.InvalidFsVerityData, "blob %s failed integrity check: %v", d, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, format.Newf(format.IO, "rewinding blob %s: %v", d, err)
		}
	}
	return f, nil
}

// OpenCompressedBlob opens d via OpenRawBlob and wraps it with codec's
// streaming decompressor, returning a stream seekable in uncompressed
// coordinates.
func (img *Image) OpenCompressedBlob(d digest.Digest, codec compression.Codec, verify *[32]byte) (compression.Decompressor, error) {
	f, err := img.OpenRawBlob(d, verify)
	if err != nil {
		return nil, err
	}
	dec, err := codec.NewDecompressor(f)
	if err != nil {
		f.Close()
		return nil, format.Newf(format.IO, "opening decompressor for blob %s: %v", d, err)
	}
	return &closeBothDecompressor{Decompressor: dec, f: f}, nil
}

// closeBothDecompressor makes sure the underlying *os.File is closed along
// with the decompressor that wraps it.
type closeBothDecompressor struct {
	compression.Decompressor
	f *os.File
}

func (c *closeBothDecompressor) Close() error {
	err := c.Decompressor.Close()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// GetIndex reads and parses index.json.
func (img *Image) GetIndex() (format.Index, error) {
	raw, err := os.ReadFile(filepath.Join(img.dir, "index.json"))
	if err != nil {
		return format.Index{}, format.Newf(format.IO, "reading index.json: %v", err)
	}
	var idx format.Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return format.Index{}, format.Newf(format.InvalidMetadata, "parsing index.json: %v", err)
	}
	return idx, nil
}

func (img *Image) putIndex(idx format.Index) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		return format.Newf(format.IO, "encoding index.json: %v", err)
	}
	return img.writeFileAtomic(filepath.Join(img.dir, "index.json"), buf.Bytes())
}

// AddTag attaches name to desc in the image's index, first opening desc's
// blob to fail fast with NotFound if it doesn't actually exist, then
// un-tagging any prior holder of name (spec section 3, Lifecycles).
func (img *Image) AddTag(name string, desc format.Descriptor) error {
	if f, err := img.OpenRawBlob(desc.Digest, nil); err != nil {
		return err
	} else {
		f.Close()
	}

	idx, err := img.GetIndex()
	if err != nil {
		return err
	}
	idx.AddTag(name, desc)
	return img.putIndex(idx)
}

// FindTag looks up the descriptor currently holding name.
func (img *Image) FindTag(name string) (format.Descriptor, bool, error) {
	idx, err := img.GetIndex()
	if err != nil {
		return format.Descriptor{}, false, err
	}
	d, ok := idx.FindTag(name)
	return d, ok, nil
}
