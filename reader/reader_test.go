package reader

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/puzzlefs/go-puzzlefs/builder"
	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

// putMetadataLayer puts blob as a zstd-compressed metadata layer and
// returns the BlobRef/fs-verity fingerprint pair a Rootfs needs to
// reference it.
func putMetadataLayer(t *testing.T, image *oci.Image, blob *format.MetadataBlob) (format.BlobRef, [32]byte) {
	t.Helper()
	raw, err := blob.EncodeToBytes()
	if err != nil {
		t.Fatalf("EncodeToBytes: %v", err)
	}
	zstd := compression.NewZstd()
	desc, err := image.PutBlob(bytes.NewReader(raw), zstd, format.MediaType(format.MediaTypeMetadataLayer, zstd.ExtensionSuffix()))
	if err != nil {
		t.Fatalf("PutBlob metadata layer: %v", err)
	}
	return format.BlobRef{Digest: desc.Digest, Offset: 0, Length: desc.Size, Compressed: desc.Compressed}, desc.FsVerityDigest
}

// putRootfs puts a Rootfs manifest referencing layers (top layer first) and
// tags it, returning the PuzzleFS opened against it.
func putRootfs(t *testing.T, image *oci.Image, tag string, layers []format.BlobRef, verity format.VerityData) *PuzzleFS {
	t.Helper()
	rootfs := &format.Rootfs{MetadataLayers: layers, VerityData: verity}
	var buf bytes.Buffer
	if err := rootfs.Encode(&buf); err != nil {
		t.Fatalf("Rootfs.Encode: %v", err)
	}
	noop := compression.Noop{}
	desc, err := image.PutBlob(bytes.NewReader(buf.Bytes()), noop, format.MediaType(format.MediaTypeRootfsManifest, noop.ExtensionSuffix()))
	if err != nil {
		t.Fatalf("PutBlob rootfs manifest: %v", err)
	}
	if err := image.AddTag(tag, desc); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return pfs
}

func buildImage(t *testing.T, files map[string]string) (*oci.Image, string) {
	t.Helper()
	return buildImageWithParams(t, files, builder.Params{})
}

func buildImageWithParams(t *testing.T, files map[string]string, params builder.Params) (*oci.Image, string) {
	t.Helper()
	hostDir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(hostDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}
	desc, err := builder.BuildInitialRootfs(hostDir, image, params)
	if err != nil {
		t.Fatalf("BuildInitialRootfs: %v", err)
	}
	if err := image.AddTag("latest", desc); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	return image, "latest"
}

func TestOpenAndFileRead(t *testing.T) {
	image, tag := buildImage(t, map[string]string{
		"a.txt":       "meshuggah rocks",
		"dir/b.txt":   "nested file content",
		"dir/sub/c":   "deeper",
	})

	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rootIno, err := pfs.FindInode(RootIno)
	if err != nil {
		t.Fatalf("FindInode(root): %v", err)
	}
	if !rootIno.Mode.IsDir() {
		t.Fatal("root inode is not a directory")
	}

	aIno, err := pfs.DirLookup(RootIno, "a.txt")
	if err != nil {
		t.Fatalf("DirLookup a.txt: %v", err)
	}
	inode, err := pfs.FindInode(aIno)
	if err != nil {
		t.Fatalf("FindInode(a.txt): %v", err)
	}

	buf := make([]byte, 64)
	n, err := pfs.FileRead(inode, 0, buf)
	if err != nil {
		t.Fatalf("FileRead: %v", err)
	}
	if string(buf[:n]) != "meshuggah rocks" {
		t.Fatalf("FileRead = %q", buf[:n])
	}

	// offset past EOF returns 0.
	n, err = pfs.FileRead(inode, int64(len("meshuggah rocks")), buf)
	if err != nil || n != 0 {
		t.Fatalf("FileRead past EOF = (%d, %v), want (0, nil)", n, err)
	}
}

func TestDirEntriesSorted(t *testing.T) {
	image, tag := buildImage(t, map[string]string{
		"zeta.txt":  "z",
		"alpha.txt": "a",
		"mid.txt":   "m",
	})
	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries, err := pfs.DirEntries(RootIno)
	if err != nil {
		t.Fatalf("DirEntries: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"alpha.txt", "mid.txt", "zeta.txt"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestFSViewReadsNestedFile(t *testing.T) {
	image, tag := buildImage(t, map[string]string{
		"dir/b.txt": "nested file content",
	})
	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fsys := NewFS(pfs)

	data, err := fs.ReadFile(fsys, "dir/b.txt")
	if err != nil {
		t.Fatalf("fs.ReadFile: %v", err)
	}
	if string(data) != "nested file content" {
		t.Fatalf("got %q", data)
	}
}

func TestFSViewReadDir(t *testing.T) {
	image, tag := buildImage(t, map[string]string{
		"dir/b.txt": "b",
		"dir/a.txt": "a",
	})
	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fsys := NewFS(pfs)

	entries, err := fs.ReadDir(fsys, "dir")
	if err != nil {
		t.Fatalf("fs.ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name() != "a.txt" || entries[1].Name() != "b.txt" {
		t.Fatalf("entries not sorted: %v", entries)
	}
}

func TestFileReadMultiChunk(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 1<<15) // 512 KiB
	// A 64 KiB maximum chunk size forces the 512 KiB file into several chunks.
	params := builder.Params{Min: 4096, Avg: 16384, Max: 65536}
	image, tag := buildImageWithParams(t, map[string]string{"big.bin": string(content)}, params)
	pfs, err := Open(image, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ino, err := pfs.DirLookup(RootIno, "big.bin")
	if err != nil {
		t.Fatalf("DirLookup: %v", err)
	}
	inode, err := pfs.FindInode(ino)
	if err != nil {
		t.Fatalf("FindInode: %v", err)
	}
	if len(inode.Mode.Chunks) < 2 {
		t.Fatalf("expected more than 1 chunk, got %d", len(inode.Mode.Chunks))
	}

	fsys := NewFS(pfs)
	f, err := fsys.Open("big.bin")
	if err != nil {
		t.Fatalf("Open(big.bin): %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

// TestWhiteoutHidesLowerLayerEntry constructs a two-layer image by hand (a
// base layer with a real file, a top layer whiting it out under the same
// name/ino) and checks that FindInode, DirLookup, and DirEntries all treat
// the name as gone rather than falling through to the base layer's copy
// (open question (a)'s decision, spec section 6(a)).
func TestWhiteoutHidesLowerLayerEntry(t *testing.T) {
	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	if err != nil {
		t.Fatalf("oci.New: %v", err)
	}

	identity := compression.Noop{}
	chunkDesc, err := image.PutBlob(bytes.NewReader([]byte("deleted in the top layer")), identity,
		format.MediaType(format.MediaTypeChunk, identity.ExtensionSuffix()))
	if err != nil {
		t.Fatalf("PutBlob chunk: %v", err)
	}

	const fileIno = 2
	base := &format.MetadataBlob{
		Version: format.MetadataVersion,
		Inodes: []format.Inode{
			{Ino: RootIno, Permissions: 0o755, Mode: format.InodeMode{
				Tag:     format.ModeDir,
				Entries: []format.DirEntry{{Name: "a.txt", Ino: fileIno}},
			}},
			{Ino: fileIno, Permissions: 0o644, Mode: format.InodeMode{
				Tag: format.ModeFile,
				Chunks: []format.BlobRef{{
					Digest: chunkDesc.Digest, Offset: 0, Length: chunkDesc.Size,
				}},
			}},
		},
	}
	top := &format.MetadataBlob{
		Version: format.MetadataVersion,
		Inodes: []format.Inode{
			{Ino: RootIno, Permissions: 0o755, Mode: format.InodeMode{
				Tag:     format.ModeDir,
				Entries: []format.DirEntry{{Name: "a.txt", Ino: fileIno}},
			}},
			{Ino: fileIno, Mode: format.InodeMode{Tag: format.ModeWhiteout}},
		},
	}

	baseRef, baseFp := putMetadataLayer(t, image, base)
	topRef, topFp := putMetadataLayer(t, image, top)
	verity := format.VerityData{baseRef.Digest: baseFp, topRef.Digest: topFp}

	pfs := putRootfs(t, image, "whiteout", []format.BlobRef{topRef, baseRef}, verity)

	if _, err := pfs.DirLookup(RootIno, "a.txt"); !format.Is(err, format.NotFound) {
		t.Fatalf("DirLookup a.txt = %v, want NotFound", err)
	}
	if _, err := pfs.FindInode(fileIno); !format.Is(err, format.NotFound) {
		t.Fatalf("FindInode(a.txt ino) = %v, want NotFound", err)
	}
	entries, err := pfs.DirEntries(RootIno)
	if err != nil {
		t.Fatalf("DirEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("DirEntries = %v, want empty (a.txt whited out)", entries)
	}
}
