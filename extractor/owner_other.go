//go:build windows

package extractor

import "github.com/puzzlefs/go-puzzlefs/format"

func chown(path string, uid, gid uint32) error { return nil }

func lchown(path string, uid, gid uint32) error { return nil }

func mknod(path string, tag format.ModeTag, perm uint16, rdev uint32) error {
	return format.Newf(format.UnsupportedOperation, "device/fifo/socket nodes are not supported on this platform")
}
