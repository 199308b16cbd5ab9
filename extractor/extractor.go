// Package extractor materializes a rootfs tag onto a host directory, the
// inverse of package builder (spec section 9).
package extractor

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/oci"
	"github.com/puzzlefs/go-puzzlefs/reader"
)

// readBufSize is the chunk size used to stream regular file contents out
// of the reader during extraction.
const readBufSize = 1 << 20

// Extract walks tag's rootfs in image and recreates it under dir, which
// must already exist. Every path and symlink target is joined against dir
// with filepath-securejoin so a malicious or buggy metadata blob can never
// place a file outside the destination tree.
func Extract(image *oci.Image, tag string, dir string) error {
	pfs, err := reader.Open(image, tag)
	if err != nil {
		return err
	}

	root, err := pfs.FindInode(reader.RootIno)
	if err != nil {
		return err
	}
	if !root.Mode.IsDir() {
		return format.Newf(format.InvalidMetadata, "root inode is not a directory")
	}

	return extractDir(pfs, reader.RootIno, root, dir, "")
}

// extractDir recreates the directory at ino (already known to be a
// directory) and recurses into its children. relPath is the slash-joined
// path from the extraction root, used only for securejoin resolution.
func extractDir(pfs *reader.PuzzleFS, ino uint64, inode format.Inode, dir, relPath string) error {
	target, err := securejoin.SecureJoin(dir, relPath)
	if err != nil {
		return format.Newf(format.IO, "resolving %q: %v", relPath, err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return format.Newf(format.IO, "mkdir %q: %v", target, err)
	}

	entries, err := pfs.DirEntries(ino)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, e := range entries {
		childInode, err := pfs.FindInode(e.Ino)
		if err != nil {
			return err
		}
		childRel := filepath.Join(relPath, e.Name)
		if err := extractInode(pfs, e.Ino, childInode, dir, childRel); err != nil {
			return err
		}
	}

	return setOwnerAndMode(target, inode)
}

// extractInode dispatches on inode's type and recreates it under dir at
// relPath, finally applying ownership and permissions.
func extractInode(pfs *reader.PuzzleFS, ino uint64, inode format.Inode, dir, relPath string) error {
	switch inode.Mode.Tag {
	case format.ModeDir:
		return extractDir(pfs, ino, inode, dir, relPath)
	case format.ModeFile:
		return extractFile(pfs, inode, dir, relPath)
	case format.ModeLnk:
		return extractSymlink(inode, dir, relPath)
	case format.ModeFifo, format.ModeSock, format.ModeChr, format.ModeBlk:
		return extractSpecial(inode, dir, relPath)
	case format.ModeWhiteout:
		// A whiteout should never survive DirEntries' merge (it is
		// suppressed as a shadowed name), so reaching one here means a
		// layer stack invariant was violated upstream.
		return format.Newf(format.InvalidMetadata, "unexpected whiteout at %q", relPath)
	default:
		return format.Newf(format.UnsupportedOperation, "inode %d: unsupported type", inode.Ino)
	}
}

func extractFile(pfs *reader.PuzzleFS, inode format.Inode, dir, relPath string) error {
	target, err := securejoin.SecureJoin(dir, relPath)
	if err != nil {
		return format.Newf(format.IO, "resolving %q: %v", relPath, err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return format.Newf(format.IO, "creating %q: %v", target, err)
	}
	defer f.Close()

	size := int64(inode.Mode.Size())
	buf := make([]byte, readBufSize)
	for off := int64(0); off < size; {
		n := len(buf)
		if rem := size - off; int64(n) > rem {
			n = int(rem)
		}
		read, err := pfs.FileRead(inode, off, buf[:n])
		if err != nil {
			return err
		}
		if read == 0 {
			return format.Newf(format.IO, "short read extracting %q at offset %d", target, off)
		}
		if _, err := f.Write(buf[:read]); err != nil {
			return format.Newf(format.IO, "writing %q: %v", target, err)
		}
		off += int64(read)
	}

	if err := f.Chmod(fs.FileMode(inode.Permissions)); err != nil {
		return format.Newf(format.IO, "chmod %q: %v", target, err)
	}
	return chown(target, inode.Uid, inode.Gid)
}

func extractSymlink(inode format.Inode, dir, relPath string) error {
	target, err := securejoin.SecureJoin(dir, relPath)
	if err != nil {
		return format.Newf(format.IO, "resolving %q: %v", relPath, err)
	}

	linkTarget := string(inode.Mode.Target)
	if err := os.Symlink(linkTarget, target); err != nil {
		return format.Newf(format.IO, "symlink %q -> %q: %v", target, linkTarget, err)
	}
	return lchown(target, inode.Uid, inode.Gid)
}

func extractSpecial(inode format.Inode, dir, relPath string) error {
	target, err := securejoin.SecureJoin(dir, relPath)
	if err != nil {
		return format.Newf(format.IO, "resolving %q: %v", relPath, err)
	}

	if err := mknod(target, inode.Mode.Tag, inode.Permissions, inode.Mode.Rdev); err != nil {
		return format.Newf(format.IO, "mknod %q: %v", target, err)
	}
	return chown(target, inode.Uid, inode.Gid)
}

func setOwnerAndMode(target string, inode format.Inode) error {
	if err := os.Chmod(target, fs.FileMode(inode.Permissions)); err != nil {
		return format.Newf(format.IO, "chmod %q: %v", target, err)
	}
	return chown(target, inode.Uid, inode.Gid)
}
