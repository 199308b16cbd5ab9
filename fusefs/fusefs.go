//go:build fuse

// Package fusefs adapts a reader.PuzzleFS snapshot to the kernel via
// hanwen/go-fuse/v2, the library the teacher's own inode_fuse.go already
// wires in. Only the operations spec section 4.7 names are implemented;
// everything else, in particular every mutating call, answers EROFS
// because the image never changes after mount.
package fusefs

import (
	"context"
	"sort"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/reader"
)

// lookupTTL is maximal: a mounted puzzlefs image is immutable for the
// life of the mount, so the kernel never needs to revalidate an entry
// (spec section 4.7, "lookup TTLs are maximal").
const lookupTTL = 365 * 24 * time.Hour

// Root builds the root node of the FUSE tree for pfs.
func Root(pfs *reader.PuzzleFS) fs.InodeEmbedder {
	return &node{pfs: pfs, ino: reader.RootIno}
}

// Mount mounts pfs at mountpoint and returns the running server without
// waiting; callers block on server.Wait() until it is unmounted. opts may
// be nil for defaults.
func Mount(pfs *reader.PuzzleFS, mountpoint string, opts *fs.Options) (*fuse.Server, error) {
	if opts == nil {
		opts = &fs.Options{}
	}
	opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	server, err := fs.Mount(mountpoint, Root(pfs), opts)
	if err != nil {
		return nil, format.Newf(format.IO, "mounting %q: %v", mountpoint, err)
	}
	return server, nil
}

// node is one FUSE inode, identified by its puzzlefs inode number. Child
// nodes are created afresh on every Lookup/Readdir call; go-fuse dedupes
// them against its own inode table by (StableAttr.Ino), so repeated
// lookups of the same puzzlefs inode always resolve to the same kernel
// inode without any cache of our own.
type node struct {
	fs.Inode
	pfs *reader.PuzzleFS
	ino uint64
}

var (
	_ fs.InodeEmbedder  = (*node)(nil)
	_ fs.NodeLookuper   = (*node)(nil)
	_ fs.NodeGetattrer  = (*node)(nil)
	_ fs.NodeOpener     = (*node)(nil)
	_ fs.NodeOpendirer  = (*node)(nil)
	_ fs.NodeReaddirer  = (*node)(nil)
	_ fs.NodeReadlinker = (*node)(nil)
	_ fs.NodeAccesser   = (*node)(nil)
	_ fs.NodeStatfser   = (*node)(nil)
	_ fs.NodeSetattrer  = (*node)(nil)
	_ fs.NodeCreater    = (*node)(nil)
	_ fs.NodeMkdirer    = (*node)(nil)
	_ fs.NodeUnlinker   = (*node)(nil)
	_ fs.NodeRmdirer    = (*node)(nil)
	_ fs.NodeRenamer    = (*node)(nil)
	_ fs.NodeSymlinker  = (*node)(nil)
	_ fs.NodeLinker     = (*node)(nil)
	_ fs.NodeMknoder    = (*node)(nil)
)

func (n *node) inode() (format.Inode, syscall.Errno) {
	i, err := n.pfs.FindInode(n.ino)
	if err != nil {
		return format.Inode{}, toErrno(err)
	}
	return i, 0
}

func (n *node) child(ino uint64) *fs.Inode {
	child := &node{pfs: n.pfs, ino: ino}
	stable := fs.StableAttr{Ino: ino}
	if i, err := n.pfs.FindInode(ino); err == nil {
		stable.Mode = uint32(i.Mode.FileMode())
	}
	return n.NewInode(context.Background(), child, stable)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childIno, err := n.pfs.DirLookup(n.ino, name)
	if err != nil {
		return nil, toErrno(err)
	}
	childInode, err := n.pfs.FindInode(childIno)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(childIno, childInode, &out.Attr)
	out.SetEntryTimeout(lookupTTL)
	out.SetAttrTimeout(lookupTTL)
	return n.child(childIno), 0
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	i, errno := n.inode()
	if errno != 0 {
		return errno
	}
	fillAttr(n.ino, i, &out.Attr)
	out.SetTimeout(lookupTTL)
	return 0
}

// Open rejects with EROFS any open carrying one of the mutating flags
// O_WRONLY, O_RDWR, O_CREAT, O_TRUNC, O_APPEND or O_EXCL. All other flags
// are accepted unchecked.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if !readOnlyOpen(flags) {
		return nil, 0, syscall.EROFS
	}
	i, errno := n.inode()
	if errno != 0 {
		return nil, 0, errno
	}
	if i.Mode.Tag != format.ModeFile {
		return nil, 0, syscall.EINVAL
	}
	return &fileHandle{pfs: n.pfs, inode: i}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *node) Opendir(ctx context.Context) syscall.Errno {
	i, errno := n.inode()
	if errno != 0 {
		return errno
	}
	if !i.Mode.IsDir() {
		return syscall.ENOTDIR
	}
	return 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.pfs.DirEntries(n.ino)
	if err != nil {
		return nil, toErrno(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	fuseEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(0)
		if i, err := n.pfs.FindInode(e.Ino); err == nil {
			mode = uint32(i.FileMode())
		}
		fuseEntries = append(fuseEntries, fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: mode})
	}
	return fs.NewListDirStream(fuseEntries), 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	i, errno := n.inode()
	if errno != 0 {
		return nil, errno
	}
	if i.Mode.Tag != format.ModeLnk {
		return nil, syscall.EINVAL
	}
	return i.Mode.Target, 0
}

// Access always allows; the image has no host-facing write permission
// model beyond the recorded mode bits (spec section 4.7, "access always
// allowed").
func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	*out = fuse.StatfsOut{}
	out.NameLen = 255
	return 0
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *node) Mknod(ctx context.Context, name string, mode, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

// fileHandle is the FUSE open-file object for a regular-file node. Reads
// are stateless so release is a no-op (spec section 4.7).
type fileHandle struct {
	pfs   *reader.PuzzleFS
	inode format.Inode
}

var (
	_ fs.FileReader    = (*fileHandle)(nil)
	_ fs.FileGetattrer = (*fileHandle)(nil)
	_ fs.FileReleaser  = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.pfs.FileRead(h.inode, off, dest)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	fillAttr(h.inode.Ino, h.inode, &out.Attr)
	return 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno { return 0 }

func readOnlyOpen(flags uint32) bool {
	const mutatingMask = syscall.O_WRONLY | syscall.O_RDWR | syscall.O_CREAT |
		syscall.O_TRUNC | syscall.O_APPEND | syscall.O_EXCL
	return flags&uint32(mutatingMask) == 0
}

func fillAttr(ino uint64, i format.Inode, out *fuse.Attr) {
	out.Ino = ino
	out.Size = i.Mode.Size()
	out.Mode = uint32(i.FileMode())
	out.Nlink = 1
	out.Owner = fuse.Owner{Uid: i.Uid, Gid: i.Gid}
	if i.Mode.Tag == format.ModeChr || i.Mode.Tag == format.ModeBlk {
		out.Rdev = i.Mode.Rdev
	}
}

func toErrno(err error) syscall.Errno {
	switch {
	case format.Is(err, format.NotFound):
		return syscall.ENOENT
	case format.Is(err, format.InvalidMetadata):
		return syscall.EIO
	case format.Is(err, format.UnsupportedOperation):
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
