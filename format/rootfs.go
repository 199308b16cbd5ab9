package format

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/puzzlefs/go-puzzlefs/digest"
)

// RootfsVersion is the only rootfs-manifest version this implementation
// writes or accepts.
const RootfsVersion uint32 = 1

// VerityData maps a blob digest to the fs-verity fingerprint recorded for it
// at build time, so a reader can ask the integrity facility to check a
// blob's fingerprint against what the builder actually computed.
type VerityData map[digest.Digest][Size32]byte

// Size32 names the 32-byte fingerprint width used throughout the format
// package without importing a cycle on the integrity package.
type Size32 = [32]byte

// Rootfs is a mountable filesystem description: an ordered stack of
// metadata layers (top layer first) plus the verity data needed to verify
// every blob referenced, directly or indirectly, by those layers.
type Rootfs struct {
	MetadataLayers []BlobRef
	VerityData     VerityData
}

// Clone returns a deep copy of r, used by the builder when stacking a new
// layer on top of a base rootfs without mutating the base in memory.
func (r *Rootfs) Clone() *Rootfs {
	out := &Rootfs{
		MetadataLayers: append([]BlobRef(nil), r.MetadataLayers...),
		VerityData:     make(VerityData, len(r.VerityData)),
	}
	for k, v := range r.VerityData {
		out.VerityData[k] = v
	}
	return out
}

// Encode serializes r to w.
func (r *Rootfs) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, RootfsVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(r.MetadataLayers))); err != nil {
		return err
	}
	for _, layer := range r.MetadataLayers {
		if err := layer.encode(w); err != nil {
			return err
		}
	}

	keys := make([]digest.Digest, 0, len(r.VerityData))
	for k := range r.VerityData {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return digest.Less(keys[i], keys[j]) })

	if err := binary.Write(w, binary.LittleEndian, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := w.Write(k[:]); err != nil {
			return err
		}
		v := r.VerityData[k]
		if _, err := w.Write(v[:]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRootfs parses a rootfs manifest previously written by Encode.
func DecodeRootfs(r io.Reader) (*Rootfs, error) {
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, Newf(InvalidMetadata, "reading rootfs version: %v", err)
	}
	if version != RootfsVersion {
		return nil, Newf(InvalidImageVersion, "unsupported rootfs manifest version %d", version)
	}

	var layerCount uint32
	if err := binary.Read(r, binary.LittleEndian, &layerCount); err != nil {
		return nil, Newf(InvalidMetadata, "reading layer count: %v", err)
	}
	layers := make([]BlobRef, layerCount)
	for i := range layers {
		l, err := decodeBlobRef(r)
		if err != nil {
			return nil, Newf(InvalidMetadata, "decoding metadata layer %d: %v", i, err)
		}
		layers[i] = l
	}

	var verityCount uint32
	if err := binary.Read(r, binary.LittleEndian, &verityCount); err != nil {
		return nil, Newf(InvalidMetadata, "reading verity count: %v", err)
	}
	verity := make(VerityData, verityCount)
	for i := uint32(0); i < verityCount; i++ {
		var key digest.Digest
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, Newf(InvalidMetadata, "decoding verity key %d: %v", i, err)
		}
		var val [32]byte
		if _, err := io.ReadFull(r, val[:]); err != nil {
			return nil, Newf(InvalidMetadata, "decoding verity value %d: %v", i, err)
		}
		verity[key] = val
	}

	return &Rootfs{MetadataLayers: layers, VerityData: verity}, nil
}
