// Package reader opens a built puzzlefs image and serves inode resolution
// and byte-range reads against its stacked metadata layers (spec sections
// 4.5 and 4.6).
package reader

import (
	"io"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/digest"
	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

// RootIno is the inode number build_initial_rootfs always assigns the root
// directory (spec section 4.3 step 2).
const RootIno = 1

// PuzzleFS is an opened image: an immutable, ordered stack of metadata
// layers (top layer first) plus the blob store needed to resolve chunk
// reads. Once opened it never mutates, so lookups are pure functions of
// this snapshot and no locking is required on the read path (spec
// section 9, concurrency model).
type PuzzleFS struct {
	image  *oci.Image
	rootfs *format.Rootfs
	layers []*format.MetadataBlob // parallel to rootfs.MetadataLayers

	chunkCache *lru.Cache[digest.Digest, compression.Decompressor]
}

// chunkCacheSize bounds the optional "cache the last blob handle"
// optimization spec section 4.6 explicitly allows but does not require.
const chunkCacheSize = 32

// Open resolves tag in image's index, loads its rootfs manifest, and reads
// every metadata layer it references.
func Open(image *oci.Image, tag string) (*PuzzleFS, error) {
	desc, ok, err := image.FindTag(tag)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, format.Newf(format.NotFound, "tag %q not found", tag)
	}
	return OpenDescriptor(image, desc)
}

// OpenDescriptor opens the rootfs manifest desc points at directly,
// without going through the index.
func OpenDescriptor(image *oci.Image, desc format.Descriptor) (*PuzzleFS, error) {
	noop := compression.Noop{}
	dec, err := image.OpenCompressedBlob(desc.Digest, noop, &desc.FsVerityDigest)
	if err != nil {
		return nil, err
	}
	rootfs, err := format.DecodeRootfs(dec)
	dec.Close()
	if err != nil {
		return nil, err
	}

	zstd := compression.NewZstd()
	layers := make([]*format.MetadataBlob, len(rootfs.MetadataLayers))
	for i, layerRef := range rootfs.MetadataLayers {
		fp := rootfs.VerityData[layerRef.Digest]
		ldec, err := image.OpenCompressedBlob(layerRef.Digest, zstd, &fp)
		if err != nil {
			return nil, err
		}
		blob, err := format.DecodeMetadataBlob(ldec)
		ldec.Close()
		if err != nil {
			return nil, err
		}
		layers[i] = blob
	}

	cache, err := lru.NewWithEvict[digest.Digest, compression.Decompressor](chunkCacheSize,
		func(_ digest.Digest, dec compression.Decompressor) { dec.Close() })
	if err != nil {
		return nil, format.Newf(format.IO, "creating chunk cache: %v", err)
	}

	return &PuzzleFS{image: image, rootfs: rootfs, layers: layers, chunkCache: cache}, nil
}

// findInoInLayer binary-searches one layer's inode table.
func findInoInLayer(layer *format.MetadataBlob, ino uint64) (format.Inode, bool) {
	return format.FindIno(layer.Inodes, ino)
}

// FindInode performs the top-down stacked lookup spec section 4.5
// describes: the first layer (top to bottom) containing ino wins. A
// Whiteout hit stops the walk immediately rather than falling through to
// a lower layer's copy of the same inode (open question (a)'s decision).
func (p *PuzzleFS) FindInode(ino uint64) (format.Inode, error) {
	for _, layer := range p.layers {
		i, ok := findInoInLayer(layer, ino)
		if !ok {
			continue
		}
		if i.Mode.IsWhiteout() {
			return format.Inode{}, format.Newf(format.NotFound, "inode %d is whited out", ino)
		}
		return i, nil
	}
	return format.Inode{}, format.Newf(format.NotFound, "inode %d not found", ino)
}

// DirLookup resolves name within the directory at parentIno, honoring
// per-entry (not per-directory) layer overrides: a layer missing the
// entry falls through to the next layer's copy of the same parent inode
// (spec section 4.5).
func (p *PuzzleFS) DirLookup(parentIno uint64, name string) (uint64, error) {
	for _, layer := range p.layers {
		parent, ok := findInoInLayer(layer, parentIno)
		if !ok {
			continue
		}
		if !parent.Mode.IsDir() {
			return 0, format.Newf(format.InvalidMetadata, "inode %d is not a directory", parentIno)
		}

		entries := parent.Mode.Entries
		i := sort.Search(len(entries), func(i int) bool { return entries[i].Name >= name })
		if i >= len(entries) || entries[i].Name != name {
			continue
		}

		childIno := entries[i].Ino
		if child, ok := findInoInLayer(layer, childIno); ok && child.Mode.IsWhiteout() {
			return 0, format.Newf(format.NotFound, "%q is whited out", name)
		}
		return childIno, nil
	}
	return 0, format.Newf(format.NotFound, "%q not found", name)
}

// DirEntries merges directory entries for parentIno across every layer
// that has a copy of it, higher layers shadowing lower ones by name, and
// returns them sorted by name (spec section 4.5).
func (p *PuzzleFS) DirEntries(parentIno uint64) ([]format.DirEntry, error) {
	seen := map[string]bool{}
	var out []format.DirEntry
	found := false

	for _, layer := range p.layers {
		parent, ok := findInoInLayer(layer, parentIno)
		if !ok {
			continue
		}
		if !parent.Mode.IsDir() {
			return nil, format.Newf(format.InvalidMetadata, "inode %d is not a directory", parentIno)
		}
		found = true

		for _, e := range parent.Mode.Entries {
			if seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			if child, ok := findInoInLayer(layer, e.Ino); ok && child.Mode.IsWhiteout() {
				continue
			}
			out = append(out, e)
		}
	}
	if !found {
		return nil, format.Newf(format.NotFound, "inode %d not found", parentIno)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// openChunk returns a seekable decompressor for a chunk blob, via the
// bounded LRU cache when possible. Chunk blobs always use the identity
// codec (spec section 5, "chunk blobs are stored uncompressed").
func (p *PuzzleFS) openChunk(d digest.Digest) (compression.Decompressor, error) {
	if dec, ok := p.chunkCache.Get(d); ok {
		return dec, nil
	}
	noop := compression.Noop{}
	dec, err := p.image.OpenCompressedBlob(d, noop, nil)
	if err != nil {
		return nil, err
	}
	p.chunkCache.Add(d, dec)
	return dec, nil
}

// FileRead implements file_read: it resolves [offset, offset+len(buf)) into
// a sequence of chunk fetches and fills buf (spec section 4.6).
func (p *PuzzleFS) FileRead(inode format.Inode, offset int64, buf []byte) (int, error) {
	if inode.Mode.Tag != format.ModeFile {
		return 0, format.Newf(format.InvalidMetadata, "inode %d is not a regular file", inode.Ino)
	}

	size := int64(inode.Mode.Size())
	if offset >= size {
		return 0, nil
	}
	end := offset + int64(len(buf))
	if end > size {
		end = size
	}
	if offset >= end {
		return 0, nil
	}

	if len(inode.Mode.Chunks) == 0 {
		return 0, format.Newf(format.InvalidMetadata, "inode %d has no chunks but size %d", inode.Ino, size)
	}

	var total int
	var chunkStart int64
	for _, chunk := range inode.Mode.Chunks {
		chunkEnd := chunkStart + int64(chunk.Length)
		if chunkEnd <= offset {
			chunkStart = chunkEnd
			continue
		}
		if chunkStart >= end {
			break
		}

		rangeStart := offset
		if chunkStart > rangeStart {
			rangeStart = chunkStart
		}
		rangeEnd := end
		if chunkEnd < rangeEnd {
			rangeEnd = chunkEnd
		}

		blobOffset := int64(chunk.Offset) + (rangeStart - chunkStart)
		n := int(rangeEnd - rangeStart)

		if err := p.readChunkRange(chunk.Digest, blobOffset, buf[rangeStart-offset:rangeStart-offset+int64(n)]); err != nil {
			return total, err
		}
		total += n

		chunkStart = chunkEnd
	}

	return total, nil
}

// readChunkRange opens chunk's blob, seeks to blobOffset, and reads
// exactly len(dst) bytes, retrying short reads until dst is filled or the
// stream signals EOF (which is fatal: it would violate the invariant that
// chunk lengths match the recorded blob ranges).
func (p *PuzzleFS) readChunkRange(d digest.Digest, blobOffset int64, dst []byte) error {
	dec, err := p.openChunk(d)
	if err != nil {
		return err
	}
	if _, err := dec.Seek(blobOffset, io.SeekStart); err != nil {
		return format.Newf(format.IO, "seeking chunk blob %s: %v", d, err)
	}

	for filled := 0; filled < len(dst); {
		n, err := dec.Read(dst[filled:])
		filled += n
		if filled >= len(dst) {
			break
		}
		if err != nil {
			return format.Newf(format.IO, "reading chunk blob %s: unexpected EOF", d)
		}
	}
	return nil
}
