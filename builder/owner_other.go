//go:build windows

package builder

import "io/fs"

// ownerOf has no POSIX uid/gid equivalent on Windows; inodes built there
// carry zero for both, matching the reserved/unimplemented xattr handling
// in package format.
func ownerOf(info fs.FileInfo) (uid, gid uint32) {
	return 0, 0
}

// rdevOf has no device-number equivalent on Windows.
func rdevOf(info fs.FileInfo) uint32 {
	return 0
}

// isWhiteoutDevice always reports false on Windows: there is no overlayfs
// whiteout convention to detect here.
func isWhiteoutDevice(rdev uint32) bool {
	return false
}
