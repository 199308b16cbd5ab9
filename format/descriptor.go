package format

import (
	"encoding/hex"
	"encoding/json"

	godigest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/puzzlefs/go-puzzlefs/digest"
)

// ociDigest renders our bare-hex Digest as an OCI "sha256:<hex>" digest,
// used only at the JSON boundary (index.json); internal representations
// and the example in spec section 8 stay unprefixed hex.
func ociDigest(d digest.Digest) godigest.Digest {
	return godigest.NewDigestFromEncoded(godigest.SHA256, d.String())
}

// NameAnnotation is the reserved annotation key used to attach a tag name
// to an index descriptor, matching the OCI "org.opencontainers.image.ref.name"
// convention the Rust original also reuses.
const NameAnnotation = "org.opencontainers.image.ref.name"

// fsVerityAnnotation and compressedAnnotation carry the two puzzlefs-
// specific descriptor fields that don't exist in the OCI image-spec
// descriptor shape, so that index.json stays valid, tool-readable OCI JSON
// (spec section 6) while still round-tripping our extra fields.
const (
	fsVerityAnnotation   = "dev.puzzlefs.fsVerityDigest"
	compressedAnnotation = "dev.puzzlefs.compressed"
)

// Descriptor identifies a blob plus the metadata needed to open and verify
// it (spec section 3).
type Descriptor struct {
	Digest         digest.Digest
	Size           uint64
	MediaType      string
	Annotations    map[string]string
	FsVerityDigest [32]byte
	Compressed     bool
}

// SetName attaches name as this descriptor's tag annotation.
func (d *Descriptor) SetName(name string) {
	if d.Annotations == nil {
		d.Annotations = make(map[string]string)
	}
	d.Annotations[NameAnnotation] = name
}

// Name returns the tag name attached to this descriptor, if any.
func (d *Descriptor) Name() (string, bool) {
	n, ok := d.Annotations[NameAnnotation]
	return n, ok
}

// RemoveName strips this descriptor's tag annotation, the way Image.add_tag
// un-tags whichever descriptor previously held a name before attaching it
// to a new one.
func (d *Descriptor) RemoveName() {
	delete(d.Annotations, NameAnnotation)
}

// toISpec converts d to the OCI image-spec shape used for on-disk JSON,
// folding the fs-verity digest and compressed flag into annotations.
func (d Descriptor) toISpec() ispec.Descriptor {
	annotations := make(map[string]string, len(d.Annotations)+2)
	for k, v := range d.Annotations {
		annotations[k] = v
	}
	annotations[fsVerityAnnotation] = hex.EncodeToString(d.FsVerityDigest[:])
	if d.Compressed {
		annotations[compressedAnnotation] = "true"
	}
	return ispec.Descriptor{
		MediaType:   d.MediaType,
		Digest:      ociDigest(d.Digest),
		Size:        int64(d.Size),
		Annotations: annotations,
	}
}

func descriptorFromISpec(id ispec.Descriptor) (Descriptor, error) {
	dig, err := digest.Parse(id.Digest.Encoded())
	if err != nil {
		return Descriptor{}, Newf(InvalidMetadata, "descriptor digest: %v", err)
	}
	d := Descriptor{
		Digest:    dig,
		Size:      uint64(id.Size),
		MediaType: id.MediaType,
	}
	annotations := make(map[string]string, len(id.Annotations))
	for k, v := range id.Annotations {
		switch k {
		case fsVerityAnnotation:
			raw, err := hex.DecodeString(v)
			if err == nil && len(raw) == 32 {
				copy(d.FsVerityDigest[:], raw)
			}
		case compressedAnnotation:
			d.Compressed = v == "true"
		default:
			annotations[k] = v
		}
	}
	d.Annotations = annotations
	return d, nil
}

// MarshalJSON renders d as an OCI descriptor object.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.toISpec())
}

// UnmarshalJSON parses d from an OCI descriptor object.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var id ispec.Descriptor
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	parsed, err := descriptorFromISpec(id)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
