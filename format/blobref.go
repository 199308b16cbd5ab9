package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/puzzlefs/go-puzzlefs/digest"
)

// MaxChunkSize is the largest byte range a single BlobRef may cover.
const MaxChunkSize = 16 * 1024 * 1024

const (
	blobRefFlagCompressed = 1 << 0
)

// BlobRef points at a byte range inside a blob: a file's chunk list is a
// sequence of these, and a rootfs manifest's metadata-layer list is too.
type BlobRef struct {
	Digest     digest.Digest
	Offset     uint64
	Length     uint64
	Compressed bool
}

func (b BlobRef) validate() error {
	if b.Length > MaxChunkSize {
		return Newf(InvalidMetadata, "blob ref length %d exceeds max chunk size %d", b.Length, MaxChunkSize)
	}
	return nil
}

func (b BlobRef) encode(w io.Writer) error {
	if err := b.validate(); err != nil {
		return err
	}
	if _, err := w.Write(b.Digest[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.Offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.Length); err != nil {
		return err
	}
	var flags uint8
	if b.Compressed {
		flags |= blobRefFlagCompressed
	}
	_, err := w.Write([]byte{flags})
	return err
}

func decodeBlobRef(r io.Reader) (BlobRef, error) {
	var b BlobRef
	if _, err := io.ReadFull(r, b.Digest[:]); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Offset); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Length); err != nil {
		return b, err
	}
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return b, err
	}
	b.Compressed = flags[0]&blobRefFlagCompressed != 0
	if err := b.validate(); err != nil {
		return b, err
	}
	return b, nil
}

func (b BlobRef) String() string {
	return fmt.Sprintf("BlobRef{%s, off=%d, len=%d, compressed=%v}", b.Digest, b.Offset, b.Length, b.Compressed)
}
