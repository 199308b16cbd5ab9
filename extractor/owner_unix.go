//go:build !windows

package extractor

import (
	"syscall"

	"github.com/puzzlefs/go-puzzlefs/format"
)

func chown(path string, uid, gid uint32) error {
	if err := syscall.Chown(path, int(uid), int(gid)); err != nil {
		return format.Newf(format.IO, "chown %q: %v", path, err)
	}
	return nil
}

func lchown(path string, uid, gid uint32) error {
	if err := syscall.Lchown(path, int(uid), int(gid)); err != nil {
		return format.Newf(format.IO, "lchown %q: %v", path, err)
	}
	return nil
}

func mknod(path string, tag format.ModeTag, perm uint16, rdev uint32) error {
	var fileType uint32
	switch tag {
	case format.ModeFifo:
		fileType = syscall.S_IFIFO
	case format.ModeSock:
		fileType = syscall.S_IFSOCK
	case format.ModeChr:
		fileType = syscall.S_IFCHR
	case format.ModeBlk:
		fileType = syscall.S_IFBLK
	}
	return syscall.Mknod(path, fileType|uint32(perm), int(rdev))
}
