package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vbatts/go-mtree"

	"github.com/puzzlefs/go-puzzlefs/builder"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// TestRoundTrip builds an arbitrary tree, extracts it back out, and
// compares the two directories with go-mtree instead of a hand-rolled
// walker, the way umoci's own repack tests do. Timestamps are left out of
// the comparison because the image does not store them.
func TestRoundTrip(t *testing.T) {
	srcDir := t.TempDir()

	mustWriteFile(t, filepath.Join(srcDir, "a.txt"), []byte("meshuggah rocks"))
	mustWriteFile(t, filepath.Join(srcDir, "dir", "b.txt"), []byte("nested file content"))
	mustWriteFile(t, filepath.Join(srcDir, "dir", "sub", "c.txt"), []byte("deeper content"))
	require.NoError(t, os.Symlink("b.txt", filepath.Join(srcDir, "dir", "link-to-b")))
	require.NoError(t, os.Chmod(filepath.Join(srcDir, "a.txt"), 0o600))

	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	require.NoError(t, err)

	desc, err := builder.BuildInitialRootfs(srcDir, image, builder.Params{})
	require.NoError(t, err)
	require.NoError(t, image.AddTag("latest", desc))

	var keywords []mtree.Keyword
	for _, k := range mtree.DefaultKeywords {
		if k != "time" {
			keywords = append(keywords, k)
		}
	}
	srcDh, err := mtree.Walk(srcDir, nil, keywords, nil)
	require.NoError(t, err)

	destDir := t.TempDir()
	require.NoError(t, Extract(image, "latest", destDir))

	destDh, err := mtree.Walk(destDir, nil, srcDh.UsedKeywords(), nil)
	require.NoError(t, err)

	diffs, err := mtree.Compare(srcDh, destDh, srcDh.UsedKeywords())
	require.NoError(t, err)
	require.Empty(t, diffs, "extracted tree differs from source tree: %v", diffs)
}

func TestExtractPlacesFileInsideDestination(t *testing.T) {
	srcDir := t.TempDir()
	mustWriteFile(t, filepath.Join(srcDir, "a.txt"), []byte("fine"))

	ociDir := t.TempDir()
	image, err := oci.New(ociDir)
	require.NoError(t, err)

	desc, err := builder.BuildInitialRootfs(srcDir, image, builder.Params{})
	require.NoError(t, err)
	require.NoError(t, image.AddTag("latest", desc))

	destDir := t.TempDir()
	require.NoError(t, Extract(image, "latest", destDir))

	// The legitimate file must land strictly inside destDir.
	_, err = os.Stat(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
}
