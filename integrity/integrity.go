// Package integrity wraps the host's file-integrity facility (Linux
// fs-verity) behind the two-operation oracle spec section 4.8 describes:
// compute a 32-byte fingerprint at build time, verify it at open time. The
// core treats this as opaque; only the two functions below matter to
// callers.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"

	"github.com/puzzlefs/go-puzzlefs/format"
)

// blockSize is the fs-verity Merkle tree block size used by the Linux
// kernel's default SHA-256 fs-verity configuration.
const blockSize = 4096

// ComputeFingerprint derives the 32-byte integrity fingerprint for data,
// the way the builder records one in every Descriptor it writes. It
// computes the same digest the kernel's fs-verity would: a SHA-256 Merkle
// tree over blockSize-aligned pages, wrapped in fs-verity's descriptor
// structure (salt-less, sha256, this file's size).
func ComputeFingerprint(data []byte) [32]byte {
	root := merkleRoot(data)
	return fsVerityDigest(root, uint64(len(data)))
}

func merkleRoot(data []byte) [32]byte {
	if len(data) == 0 {
		// fs-verity defines the root hash of an empty file as all zeros.
		return [32]byte{}
	}

	level := leafHashes(data)
	for len(level) > 1 {
		level = parentHashes(level)
	}
	return level[0]
}

func leafHashes(data []byte) [][32]byte {
	var out [][32]byte
	for off := 0; off < len(data); off += blockSize {
		end := off + blockSize
		block := make([]byte, blockSize)
		if end > len(data) {
			end = len(data)
		}
		copy(block, data[off:end])
		out = append(out, sha256Sum(block))
	}
	if len(out) == 0 {
		out = append(out, sha256Sum(make([]byte, blockSize)))
	}
	return out
}

func parentHashes(level [][32]byte) [][32]byte {
	const hashesPerBlock = blockSize / 32
	var out [][32]byte
	for i := 0; i < len(level); i += hashesPerBlock {
		end := i + hashesPerBlock
		if end > len(level) {
			end = len(level)
		}
		block := make([]byte, blockSize)
		for j, h := range level[i:end] {
			copy(block[j*32:], h[:])
		}
		out = append(out, sha256Sum(block))
	}
	return out
}

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// fsVerityDigest wraps a Merkle tree root into the fs-verity descriptor
// digest the kernel reports via FS_IOC_MEASURE_VERITY: a hash of the
// 256-byte fs-verity descriptor (version, hash algorithm, log2(block size),
// salt size, sig size, data size at offset 8, the root hash in a 64-byte
// field at offset 16, then zeroed salt and reserved bytes).
func fsVerityDigest(root [32]byte, size uint64) [32]byte {
	var desc [256]byte
	desc[0] = 1  // version
	desc[1] = 1  // FS_VERITY_HASH_ALG_SHA256
	desc[2] = 12 // log2(blockSize)
	desc[3] = 0  // salt_size; desc[4:8] is sig_size, also 0
	binary.LittleEndian.PutUint64(desc[8:], size)
	copy(desc[16:], root[:])
	return sha256.Sum256(desc[:])
}

// ComputeFingerprintFile reads f from the start and returns its integrity
// fingerprint, the way put_blob records one for a newly written blob.
func ComputeFingerprintFile(f *os.File) ([32]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return [32]byte{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return [32]byte{}, err
	}
	return ComputeFingerprint(data), nil
}

// Verify checks that the fingerprint recorded for a blob matches the
// fingerprint the integrity facility computes for the file actually on
// disk. On Linux this asks the kernel's own fs-verity ioctl (so it detects
// corruption the kernel itself would reject at the page-cache level); on
// other platforms it falls back to recomputing ComputeFingerprint over the
// file's bytes, which still satisfies the oracle contract (spec section
// 4.8) but without the kernel's enforcement at mmap/exec time.
func Verify(f *os.File, expected [32]byte) error {
	ok, err := verifyPlatform(f, expected)
	if err != nil {
		return format.Newf(format.IO, "verifying integrity fingerprint: %v", err)
	}
	if !ok {
		return format.New(format.InvalidFsVerityData, "fingerprint mismatch")
	}
	return nil
}
