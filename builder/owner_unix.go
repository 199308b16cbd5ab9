//go:build !windows

package builder

import (
	"io/fs"
	"syscall"
)

// ownerOf extracts the uid/gid recorded by the host filesystem for info,
// the way the teacher's writer.go reads st_uid/st_gid off fs.FileInfo.Sys()
// when adding a file to an image.
func ownerOf(info fs.FileInfo) (uid, gid uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return st.Uid, st.Gid
}

// rdevOf extracts the device number recorded by the host filesystem for a
// character or block device, for storage on the Inode.
func rdevOf(info fs.FileInfo) uint32 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint32(st.Rdev)
}

// isWhiteoutDevice reports whether rdev is the overlayfs whiteout device
// number (major 0, minor 0): overlayfs represents "this entry was deleted
// in a lower layer" as a character device with that device number, the same
// convention umoci's AddWhiteout/isOverlayWhiteout (oci/layer/generate.go)
// detects when translating an overlayfs upperdir into an OCI layer.
func isWhiteoutDevice(rdev uint32) bool {
	return rdev == 0
}
