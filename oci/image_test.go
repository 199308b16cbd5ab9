package oci

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/digest"
	"github.com/puzzlefs/go-puzzlefs/format"
)

func countBlobs(t *testing.T, ociDir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ociDir, "blobs", "sha256"))
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

// TestPutBlobIdempotent exercises spec section 8 scenario 3: putting the
// same content twice leaves the blob count unchanged and returns equal
// descriptors, since the digest already names the content on disk.
func TestPutBlobIdempotent(t *testing.T) {
	ociDir := t.TempDir()
	image, err := New(ociDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	identity := compression.Noop{}
	content := []byte("meshuggah rocks")

	d1, err := image.PutBlob(bytes.NewReader(content), identity, format.MediaType(format.MediaTypeChunk, identity.ExtensionSuffix()))
	if err != nil {
		t.Fatalf("first PutBlob: %v", err)
	}
	before := countBlobs(t, ociDir)

	d2, err := image.PutBlob(bytes.NewReader(content), identity, format.MediaType(format.MediaTypeChunk, identity.ExtensionSuffix()))
	if err != nil {
		t.Fatalf("second PutBlob: %v", err)
	}
	after := countBlobs(t, ociDir)

	if d1.Digest != d2.Digest || d1.Size != d2.Size || d1.MediaType != d2.MediaType ||
		d1.FsVerityDigest != d2.FsVerityDigest || d1.Compressed != d2.Compressed {
		t.Fatalf("descriptors differ across re-put: %+v vs %+v", d1, d2)
	}
	if after != before {
		t.Fatalf("blob count changed on re-put: before=%d after=%d", before, after)
	}
}

// TestOpenRawBlobNotFound confirms a missing digest surfaces as
// format.NotFound through the directory-handle-rooted open path.
func TestOpenRawBlobNotFound(t *testing.T) {
	ociDir := t.TempDir()
	image, err := New(ociDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var bogus digest.Digest
	if _, err := image.OpenRawBlob(bogus, nil); !format.Is(err, format.NotFound) {
		t.Fatalf("OpenRawBlob(missing) = %v, want NotFound", err)
	}
}

// TestNewOpenRoundTrip confirms an image created with New can be reopened
// with Open and rejects a tampered layout version.
func TestNewOpenRoundTrip(t *testing.T) {
	ociDir := t.TempDir()
	if _, err := New(ociDir); err != nil {
		t.Fatalf("New: %v", err)
	}
	reopened, err := Open(ociDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	idx, err := reopened.GetIndex()
	if err != nil {
		t.Fatalf("GetIndex: %v", err)
	}
	if len(idx.Manifests) != 0 {
		t.Fatalf("expected empty index, got %v", idx.Manifests)
	}

	if err := os.WriteFile(filepath.Join(ociDir, "oci-layout"), []byte(`{"imageLayoutVersion":"bogus"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ociDir); !format.Is(err, format.InvalidImageVersion) {
		t.Fatalf("Open(tampered layout) = %v, want InvalidImageVersion", err)
	}
}
