// Package builder walks a host directory tree and assembles it into a
// puzzlefs rootfs: chunked file content, a serialized inode table, and a
// rootfs manifest, all written into an OCI-layout image (spec section 4.3).
package builder

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mohae/deepcopy"
	"golang.org/x/sync/errgroup"

	"github.com/puzzlefs/go-puzzlefs/chunker"
	"github.com/puzzlefs/go-puzzlefs/compression"
	"github.com/puzzlefs/go-puzzlefs/digest"
	"github.com/puzzlefs/go-puzzlefs/format"
	"github.com/puzzlefs/go-puzzlefs/oci"
)

// Params bundles the chunker parameters a build may override; a zero value
// means "use the chunker's defaults".
type Params struct {
	Min, Avg, Max uint64
}

func (p Params) chunkerParams() chunker.Params {
	if p.Min == 0 && p.Avg == 0 && p.Max == 0 {
		return chunker.DefaultParams()
	}
	return chunker.Params{Min: uint32(p.Min), Avg: uint32(p.Avg), Max: uint32(p.Max)}
}

// buildState accumulates everything a build produces: the inode table
// under construction, the fs-verity map for every blob put so far, and the
// chunk-digest set already present in the image (for delta builds, this
// starts out populated from the base layer's chunks).
type buildState struct {
	image      *oci.Image
	params     chunker.Params
	nextIno    uint64

	mu         sync.Mutex
	inodes     []format.Inode
	verityData format.VerityData
	putDigest  map[digest.Digest]bool
}

func (st *buildState) allocIno() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	ino := st.nextIno
	st.nextIno++
	return ino
}

func (st *buildState) addInode(ino format.Inode) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.inodes = append(st.inodes, ino)
}

func (st *buildState) markPut(d digest.Digest) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.putDigest[d] = true
}

func (st *buildState) alreadyPut(d digest.Digest) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.putDigest[d]
}

func (st *buildState) addVerity(d digest.Digest, fp [32]byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.verityData[d] = fp
}

// BuildInitialRootfs walks hostDir and builds a fresh rootfs manifest with
// a single metadata layer, writing every blob into image (spec section
// 4.3, build_initial_rootfs).
func BuildInitialRootfs(hostDir string, image *oci.Image, params Params) (format.Descriptor, error) {
	return build(hostDir, image, params, nil)
}

// AddRootfsDelta builds a new top metadata layer over baseTag's rootfs,
// skipping put_blob for chunks the base already contains (spec section
// 4.3, add_rootfs_delta). The returned Descriptor names the new combined
// rootfs manifest, whose MetadataLayers are [new layer] ++ base layers.
func AddRootfsDelta(hostDir string, image *oci.Image, baseTag string, params Params) (format.Descriptor, error) {
	baseDesc, ok, err := image.FindTag(baseTag)
	if err != nil {
		return format.Descriptor{}, err
	}
	if !ok {
		return format.Descriptor{}, format.Newf(format.NotFound, "base tag %q not found", baseTag)
	}

	base, err := openRootfs(image, baseDesc)
	if err != nil {
		return format.Descriptor{}, err
	}

	baseChunks, err := collectChunkDigests(image, base)
	if err != nil {
		return format.Descriptor{}, err
	}

	return build(hostDir, image, params, &deltaBase{rootfs: base, chunks: baseChunks})
}

type deltaBase struct {
	rootfs *format.Rootfs
	chunks map[digest.Digest]bool
}

func build(hostDir string, image *oci.Image, params Params, base *deltaBase) (format.Descriptor, error) {
	st := &buildState{
		image:      image,
		params:     params.chunkerParams(),
		verityData: make(format.VerityData),
		putDigest:  map[digest.Digest]bool{},
		nextIno:    1,
	}
	if base != nil {
		st.putDigest = base.chunks
	}

	rootInfo, err := os.Lstat(hostDir)
	if err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "stat root %s: %v", hostDir, err)
	}
	rootIno := st.allocIno()
	var g errgroup.Group
	if err := buildTree(hostDir, rootInfo, rootIno, st, &g); err != nil {
		return format.Descriptor{}, err
	}
	if err := g.Wait(); err != nil {
		return format.Descriptor{}, err
	}

	sort.Slice(st.inodes, func(i, j int) bool { return st.inodes[i].Ino < st.inodes[j].Ino })

	metaBlob := &format.MetadataBlob{Version: format.MetadataVersion, Inodes: st.inodes}
	raw, err := metaBlob.EncodeToBytes()
	if err != nil {
		return format.Descriptor{}, format.Newf(format.InvalidMetadata, "encoding metadata blob: %v", err)
	}

	zstd := compression.NewZstd()
	metaDesc, err := image.PutBlob(bytes.NewReader(raw), zstd, format.MediaType(format.MediaTypeMetadataLayer, zstd.ExtensionSuffix()))
	if err != nil {
		return format.Descriptor{}, err
	}
	st.addVerity(metaDesc.Digest, metaDesc.FsVerityDigest)

	layers := []format.BlobRef{{
		Digest:     metaDesc.Digest,
		Offset:     0,
		Length:     metaDesc.Size,
		Compressed: metaDesc.Compressed,
	}}

	verity := st.verityData
	if base != nil {
		cloned := base.rootfs.Clone()
		merged := deepCopyVerity(cloned.VerityData)
		for k, v := range verity {
			merged[k] = v
		}
		verity = merged
		layers = append(layers, cloned.MetadataLayers...)
	}

	rootfs := &format.Rootfs{MetadataLayers: layers, VerityData: verity}
	var rootfsBuf bytes.Buffer
	if err := rootfs.Encode(&rootfsBuf); err != nil {
		return format.Descriptor{}, format.Newf(format.IO, "encoding rootfs manifest: %v", err)
	}

	noop := compression.Noop{}
	return image.PutBlob(bytes.NewReader(rootfsBuf.Bytes()), noop, format.MediaType(format.MediaTypeRootfsManifest, noop.ExtensionSuffix()))
}

// buildTree builds the Inode for path (already assigned ino) and, for
// directories, recurses into sorted children, assigning their inode
// numbers in walk order (spec section 4.3 steps 1-2) before fanning their
// file-chunking work out across g.
func buildTree(path string, info fs.FileInfo, ino uint64, st *buildState, g *errgroup.Group) error {
	if !info.IsDir() {
		return buildLeaf(path, info, ino, st, g)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return format.Newf(format.IO, "reading dir %s: %v", path, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	dirEntries := make([]format.DirEntry, len(names))
	for i, name := range names {
		childPath := filepath.Join(path, name)
		childInfo, err := os.Lstat(childPath)
		if err != nil {
			return format.Newf(format.IO, "stat %s: %v", childPath, err)
		}
		childIno := st.allocIno()
		dirEntries[i] = format.DirEntry{Name: name, Ino: childIno}
		if err := buildTree(childPath, childInfo, childIno, st, g); err != nil {
			return err
		}
	}

	dirInode := newInodeFromFileInfo(ino, info)
	dirInode.Mode.Tag = format.ModeDir
	dirInode.Mode.Entries = dirEntries
	dirInode.Mode.SortEntries()
	st.addInode(dirInode)
	return nil
}

// buildLeaf builds the Inode for a non-directory path. Regular files are
// chunked and their chunks put as identity-codec blobs (spec section 4.3
// step 3); since the chunking/hashing/put work is I/O-bound and
// independent across files, it is handed to g to run concurrently. No
// limit is set on g, so every regular file gets its own goroutine.
func buildLeaf(path string, info fs.FileInfo, ino uint64, st *buildState, g *errgroup.Group) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return format.Newf(format.IO, "readlink %s: %v", path, err)
		}
		i := newInodeFromFileInfo(ino, info)
		i.Mode.Tag = format.ModeLnk
		i.Mode.Target = []byte(target)
		st.addInode(i)
		return nil
	}

	if info.Mode().IsRegular() {
		g.Go(func() error {
			chunks, err := chunkFile(path, st)
			if err != nil {
				return err
			}
			i := newInodeFromFileInfo(ino, info)
			i.Mode.Tag = format.ModeFile
			i.Mode.Chunks = chunks
			st.addInode(i)
			return nil
		})
		return nil
	}

	i := newInodeFromFileInfo(ino, info)
	switch {
	case info.Mode()&os.ModeNamedPipe != 0:
		i.Mode.Tag = format.ModeFifo
	case info.Mode()&os.ModeSocket != 0:
		i.Mode.Tag = format.ModeSock
	case info.Mode()&os.ModeCharDevice != 0:
		rdev := rdevOf(info)
		if isWhiteoutDevice(rdev) {
			// An overlayfs-style whiteout marker: a character device with
			// device number 0 records that this name was deleted relative
			// to a lower layer (spec section 6(a)'s whiteout decision),
			// the same convention a delta build's hostDir takes on when it
			// is an overlayfs upperdir (cf. umoci's isOverlayWhiteout).
			i.Mode.Tag = format.ModeWhiteout
		} else {
			i.Mode.Tag = format.ModeChr
			i.Mode.Rdev = rdev
		}
	case info.Mode()&os.ModeDevice != 0:
		i.Mode.Tag = format.ModeBlk
		i.Mode.Rdev = rdevOf(info)
	default:
		return format.Newf(format.UnsupportedOperation, "unsupported file type at %s", path)
	}
	st.addInode(i)
	return nil
}

func chunkFile(path string, st *buildState) ([]format.BlobRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, format.Newf(format.IO, "opening %s: %v", path, err)
	}
	defer f.Close()

	c, err := chunker.New(f, st.params)
	if err != nil {
		return nil, format.Newf(format.InvalidChunkerParams, "%v", err)
	}

	identity := compression.Noop{}
	var chunks []format.BlobRef
	for {
		_, data, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, format.Newf(format.IO, "chunking %s: %v", path, err)
		}
		if len(data) == 0 {
			break
		}

		dig := digest.FromBytes(data)
		size := uint64(len(data))

		if !st.alreadyPut(dig) {
			desc, err := st.image.PutBlob(bytes.NewReader(data), identity,
				format.MediaType(format.MediaTypeChunk, identity.ExtensionSuffix()))
			if err != nil {
				return nil, err
			}
			size = desc.Size
			st.markPut(dig)
			st.addVerity(dig, desc.FsVerityDigest)
		}

		chunks = append(chunks, format.BlobRef{
			Digest:     dig,
			Offset:     0,
			Length:     size,
			Compressed: false,
		})
	}
	return chunks, nil
}

func newInodeFromFileInfo(ino uint64, info fs.FileInfo) format.Inode {
	uid, gid := ownerOf(info)
	return format.Inode{
		Ino:         ino,
		Uid:         uid,
		Gid:         gid,
		Permissions: uint16(info.Mode().Perm()),
	}
}

func openRootfs(image *oci.Image, desc format.Descriptor) (*format.Rootfs, error) {
	noop := compression.Noop{}
	dec, err := image.OpenCompressedBlob(desc.Digest, noop, &desc.FsVerityDigest)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return format.DecodeRootfs(dec)
}

// collectChunkDigests reads every metadata layer in rootfs and returns the
// set of chunk digests it references, so add_rootfs_delta can skip
// put_blob for content the base already has.
func collectChunkDigests(image *oci.Image, rootfs *format.Rootfs) (map[digest.Digest]bool, error) {
	seen := map[digest.Digest]bool{}
	zstd := compression.NewZstd()
	for _, layer := range rootfs.MetadataLayers {
		fp := rootfs.VerityData[layer.Digest]
		dec, err := image.OpenCompressedBlob(layer.Digest, zstd, &fp)
		if err != nil {
			return nil, err
		}
		blob, err := format.DecodeMetadataBlob(dec)
		dec.Close()
		if err != nil {
			return nil, err
		}
		for _, ino := range blob.Inodes {
			if ino.Mode.Tag != format.ModeFile {
				continue
			}
			for _, c := range ino.Mode.Chunks {
				seen[c.Digest] = true
			}
		}
	}
	return seen, nil
}

// deepCopyVerity deep-copies a base layer's verity map before a delta
// build augments it in memory, so the base rootfs snapshot already held
// open elsewhere is never mutated (spec section 9's "no cycles/shared
// ownership" redesign flag, applied to this map the same way Clone applies
// it to BlobRef slices).
func deepCopyVerity(v format.VerityData) format.VerityData {
	copied := deepcopy.Copy(v)
	out, ok := copied.(format.VerityData)
	if !ok {
		out = make(format.VerityData, len(v))
		for k, val := range v {
			out[k] = val
		}
	}
	return out
}
