//go:build gofuzz

package format

import (
	"bytes"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzDecodeMetadataBlob feeds structured-but-adversarial input at
// DecodeMetadataBlob, the way umoci's mutate_fuzzer.go and layer_fuzzer.go
// drive its manifest/layer decoders: build a plausible-looking blob out of
// fuzzer-controlled fields rather than just throwing raw bytes at it, so the
// fuzzer can get past the magic/version gate and into the interesting
// decode paths.
func FuzzDecodeMetadataBlob(data []byte) int {
	fz := fuzz.NewConsumer(data)

	var buf bytes.Buffer
	buf.Write(metadataMagic[:])

	version, err := fz.GetUint32()
	if err != nil {
		return 0
	}
	_ = version

	n, err := fz.GetInt()
	if err != nil {
		return 0
	}
	count := uint64(n % 64)

	blob := &MetadataBlob{Version: MetadataVersion, Inodes: make([]Inode, 0, count)}
	for i := uint64(0); i < count; i++ {
		name, err := fz.GetString()
		if err != nil {
			break
		}
		size, err := fz.GetInt()
		if err != nil {
			break
		}
		blob.Inodes = append(blob.Inodes, Inode{
			Ino:         i + 1,
			Permissions: 0o644,
			Mode: InodeMode{
				Tag:    ModeLnk,
				Target: []byte(name),
			},
		})
		_ = size
	}

	if err := blob.Encode(&buf); err != nil {
		return 0
	}

	if _, err := DecodeMetadataBlob(&buf); err != nil {
		return 0
	}
	return 1
}
