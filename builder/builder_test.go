package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildInitialRootfsSingleFile(t *testing.T) {
	hostDir := t.TempDir()
	mustWriteFile(t, filepath.Join(hostDir, "a.txt"), []byte("meshuggah rocks"))

	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}

	desc, err := BuildInitialRootfs(hostDir, image, Params{})
	if err != nil {
		t.Fatalf("BuildInitialRootfs: %v", err)
	}
	if desc.MediaType == "" {
		t.Fatal("expected non-empty media type")
	}

	noop := compression.Noop{}
	dec, err := image.OpenCompressedBlob(desc.Digest, noop, &desc.FsVerityDigest)
	if err != nil {
		t.Fatalf("OpenCompressedBlob: %v", err)
	}
	defer dec.Close()

	rootfs, err := format.DecodeRootfs(dec)
	if err != nil {
		t.Fatalf("DecodeRootfs: %v", err)
	}
	if len(rootfs.MetadataLayers) != 1 {
		t.Fatalf("expected 1 metadata layer, got %d", len(rootfs.MetadataLayers))
	}
}

func TestBuildInitialRootfsChunkIsAddressedCorrectly(t *testing.T) {
	hostDir := t.TempDir()
	mustWriteFile(t, filepath.Join(hostDir, "a.txt"), []byte("meshuggah rocks"))

	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}

	if _, err := BuildInitialRootfs(hostDir, image, Params{}); err != nil {
		t.Fatalf("BuildInitialRootfs: %v", err)
	}

	const want = "3abd5ce0f91f640d88dca1f26b37037b02415927cacec9626d87668a715ec12d"
	path := filepath.Join(ociDir, "blobs", "sha256", want)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected chunk blob at %s: %v", path, err)
	}
	if string(data) != "meshuggah rocks" {
		t.Fatalf("chunk blob content = %q", data)
	}
}

func TestAddRootfsDeltaAddsOneFileWorthOfBlobs(t *testing.T) {
	hostDir := t.TempDir()
	mustWriteFile(t, filepath.Join(hostDir, "a.txt"), []byte("base content"))

	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}

	baseDesc, err := BuildInitialRootfs(hostDir, image, Params{})
	if err != nil {
		t.Fatalf("BuildInitialRootfs: %v", err)
	}
	if err := image.AddTag("base", baseDesc); err != nil {
		t.Fatalf("AddTag: %v", err)
	}

	countBlobs := func() int {
		entries, err := os.ReadDir(filepath.Join(ociDir, "blobs", "sha256"))
		if err != nil {
			t.Fatal(err)
		}
		return len(entries)
	}
	before := countBlobs()

	mustWriteFile(t, filepath.Join(hostDir, "x.txt"), []byte("new file content"))

	deltaDesc, err := AddRootfsDelta(hostDir, image, "base", Params{})
	if err != nil {
		t.Fatalf("AddRootfsDelta: %v", err)
	}
	after := countBlobs()

	// one new chunk blob for x.txt, one new metadata blob, one new rootfs
	// manifest blob.
	if after-before != 3 {
		t.Fatalf("blob count delta = %d, want 3", after-before)
	}

	noop := compression.Noop{}
	dec, err := image.OpenCompressedBlob(deltaDesc.Digest, noop, &deltaDesc.FsVerityDigest)
	if err != nil {
		t.Fatalf("OpenCompressedBlob: %v", err)
	}
	defer dec.Close()
	rootfs, err := format.DecodeRootfs(dec)
	if err != nil {
		t.Fatalf("DecodeRootfs: %v", err)
	}
	if len(rootfs.MetadataLayers) != 2 {
		t.Fatalf("expected 2 metadata layers after delta, got %d", len(rootfs.MetadataLayers))
	}
}

func TestIsWhiteoutDevice(t *testing.T) {
	if isWhiteoutDevice(0) != true {
		t.Fatal("rdev 0 (major 0, minor 0) should be recognized as an overlayfs whiteout device")
	}
	if isWhiteoutDevice(1) != false {
		t.Fatal("a real device number should not be recognized as a whiteout device")
	}
}

func TestAddTagReplacesPriorHolder(t *testing.T) {
	hostDir := t.TempDir()
	mustWriteFile(t, filepath.Join(hostDir, "a.txt"), []byte("v1"))
	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}

	d1, err := BuildInitialRootfs(hostDir, image, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if err := image.AddTag("v1", d1); err != nil {
		t.Fatal(err)
	}

	mustWriteFile(t, filepath.Join(hostDir, "a.txt"), []byte("v2, different"))
	d2, err := BuildInitialRootfs(hostDir, image, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if err := image.AddTag("v1", d2); err != nil {
		t.Fatal(err)
	}

	idx, err := image.GetIndex()
	if err != nil {
		t.Fatal(err)
	}
	found, ok := idx.FindTag("v1")
	if !ok {
		t.Fatal("expected v1 tag present")
	}
	if found.Digest != d2.Digest {
		t.Fatalf("v1 tag points at %s, want %s", found.Digest, d2.Digest)
	}
}
