// Wire-format encode/decode for the per-layer metadata blob. The layout is
// deterministic and versioned (spec section 4.4): fixed-width little-endian
// integers, length-prefixed variable fields, no self-describing types. The
// decoder below mirrors the teacher's GetInodeRef: a straight-line sequence
// of binary.Read calls per field, switching on a type tag to pick the
// variant payload.
package format

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
)

var metadataMagic = [4]byte{'p', 'z', 'f', 's'}

// MetadataVersion is the only version this implementation writes or
// accepts. An unknown version gates the whole blob (spec section 4.4).
const MetadataVersion uint32 = 1

// MetadataBlob is a single serialized layer: a header plus an inode table
// ordered by Ino.
type MetadataBlob struct {
	Version uint32
	Inodes  []Inode
}

// Encode serializes m to w.
func (m *MetadataBlob) Encode(w io.Writer) error {
	sorted := append([]Inode(nil), m.Inodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ino < sorted[j].Ino })

	if _, err := w.Write(metadataMagic[:]); err != nil {
		return err
	}
	version := m.Version
	if version == 0 {
		version = MetadataVersion
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(sorted))); err != nil {
		return err
	}
	for _, ino := range sorted {
		if err := encodeInode(w, ino); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMetadataBlob parses a metadata blob previously written by Encode.
func DecodeMetadataBlob(r io.Reader) (*MetadataBlob, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, Newf(InvalidMetadata, "reading magic: %v", err)
	}
	if magic != metadataMagic {
		return nil, New(InvalidMetadata, "bad magic in metadata blob")
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, Newf(InvalidMetadata, "reading version: %v", err)
	}
	if version != MetadataVersion {
		return nil, Newf(InvalidImageVersion, "unsupported metadata blob version %d", version)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, Newf(InvalidMetadata, "reading inode count: %v", err)
	}

	inodes := make([]Inode, 0, count)
	var prevIno uint64
	for i := uint64(0); i < count; i++ {
		ino, err := decodeInode(r)
		if err != nil {
			return nil, Newf(InvalidMetadata, "decoding inode %d: %v", i, err)
		}
		if i > 0 && ino.Ino <= prevIno {
			return nil, New(InvalidMetadata, "inode table is not sorted by ino")
		}
		prevIno = ino.Ino
		inodes = append(inodes, ino)
	}

	return &MetadataBlob{Version: version, Inodes: inodes}, nil
}

// FindIno performs a binary search for ino within an inode table sorted by
// Ino, as required by the on-disk layout.
func FindIno(inodes []Inode, ino uint64) (Inode, bool) {
	i := sort.Search(len(inodes), func(i int) bool { return inodes[i].Ino >= ino })
	if i < len(inodes) && inodes[i].Ino == ino {
		return inodes[i], true
	}
	return Inode{}, false
}

func encodeInode(w io.Writer, ino Inode) error {
	if err := binary.Write(w, binary.LittleEndian, ino.Ino); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ino.Uid); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ino.Gid); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ino.Permissions); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ino.XattrIndex); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(ino.Mode.Tag)}); err != nil {
		return err
	}

	switch ino.Mode.Tag {
	case ModeFile:
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ino.Mode.Chunks))); err != nil {
			return err
		}
		for _, c := range ino.Mode.Chunks {
			if err := c.encode(w); err != nil {
				return err
			}
		}
	case ModeDir:
		entries := append([]DirEntry(nil), ino.Mode.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
			return err
		}
		for _, e := range entries {
			if err := binary.Write(w, binary.LittleEndian, uint16(len(e.Name))); err != nil {
				return err
			}
			if _, err := io.WriteString(w, e.Name); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, e.Ino); err != nil {
				return err
			}
		}
	case ModeChr, ModeBlk:
		if err := binary.Write(w, binary.LittleEndian, ino.Mode.Rdev); err != nil {
			return err
		}
	case ModeLnk:
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ino.Mode.Target))); err != nil {
			return err
		}
		if _, err := w.Write(ino.Mode.Target); err != nil {
			return err
		}
	case ModeFifo, ModeSock, ModeWhiteout:
		// no payload
	default:
		return Newf(InvalidMetadata, "unknown mode tag %d", ino.Mode.Tag)
	}
	return nil
}

func decodeInode(r io.Reader) (Inode, error) {
	var ino Inode
	if err := binary.Read(r, binary.LittleEndian, &ino.Ino); err != nil {
		return ino, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ino.Uid); err != nil {
		return ino, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ino.Gid); err != nil {
		return ino, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ino.Permissions); err != nil {
		return ino, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ino.XattrIndex); err != nil {
		return ino, err
	}
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return ino, err
	}
	ino.Mode.Tag = ModeTag(tag[0])

	switch ino.Mode.Tag {
	case ModeFile:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return ino, err
		}
		chunks := make([]BlobRef, n)
		for i := range chunks {
			c, err := decodeBlobRef(r)
			if err != nil {
				return ino, err
			}
			chunks[i] = c
		}
		ino.Mode.Chunks = chunks
	case ModeDir:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return ino, err
		}
		entries := make([]DirEntry, n)
		var prevName string
		for i := range entries {
			var nameLen uint16
			if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
				return ino, err
			}
			nameBuf := make([]byte, nameLen)
			if _, err := io.ReadFull(r, nameBuf); err != nil {
				return ino, err
			}
			var childIno uint64
			if err := binary.Read(r, binary.LittleEndian, &childIno); err != nil {
				return ino, err
			}
			name := string(nameBuf)
			if i > 0 && name <= prevName {
				return ino, New(InvalidMetadata, "directory entries are not sorted by name")
			}
			prevName = name
			entries[i] = DirEntry{Name: name, Ino: childIno}
		}
		ino.Mode.Entries = entries
	case ModeChr, ModeBlk:
		if err := binary.Read(r, binary.LittleEndian, &ino.Mode.Rdev); err != nil {
			return ino, err
		}
	case ModeLnk:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return ino, err
		}
		target := make([]byte, n)
		if _, err := io.ReadFull(r, target); err != nil {
			return ino, err
		}
		ino.Mode.Target = target
	case ModeFifo, ModeSock, ModeWhiteout:
		// no payload
	default:
		return ino, Newf(InvalidMetadata, "unknown mode tag %d", ino.Mode.Tag)
	}

	return ino, nil
}

// EncodeToBytes is a convenience wrapper for callers (the builder) that want
// the serialized form as a []byte to hand to the blob store.
func (m *MetadataBlob) EncodeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
