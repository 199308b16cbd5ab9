//go:build !windows

package oci

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// openRelative opens rel relative to dir's file descriptor via openat,
// rather than re-joining and re-resolving a path string from scratch — the
// lookup is rooted at the directory handle captured once when the Image was
// opened, matching the Rust original's openat::Dir-backed open_raw_blob.
func openRelative(dir *os.File, rel string) (*os.File, error) {
	fd, err := unix.Openat(int(dir.Fd()), rel, unix.O_RDONLY, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: filepath.Join(dir.Name(), rel), Err: err}
	}
	return os.NewFile(uintptr(fd), filepath.Join(dir.Name(), rel)), nil
}
