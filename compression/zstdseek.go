package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd is the seekable frame-based codec spec section 4/9 requires: the
// uncompressed stream is split into independently-compressed frames, and a
// skippable seek-table frame at the end (in the spirit of the upstream
// "seekable format" for zstd, and of estargz's trailing TOC/footer) lets a
// reader jump straight to the frame covering any offset without
// decompressing everything before it.
type Zstd struct {
	// FrameSize bounds how much uncompressed data each independent zstd
	// frame covers; smaller frames make seeks cheaper at the cost of
	// compression ratio.
	FrameSize int
}

// NewZstd returns the Zstd codec with its default frame size.
func NewZstd() Zstd { return Zstd{FrameSize: 1 << 20} }

func (Zstd) Name() string            { return "zstd" }
func (Zstd) ExtensionSuffix() string { return "+zstd" }
func (Zstd) IsIdentity() bool        { return false }

var zstdSeekMagic = [8]byte{'p', 'z', 'f', 's', 'z', 's', 't', '1'}

type seekTableEntry struct {
	uncompressedOffset uint64
	uncompressedSize   uint64
	compressedOffset   uint64
	compressedSize     uint64
}

func (z Zstd) NewCompressor(w io.WriteSeeker) (Compressor, error) {
	frameSize := z.FrameSize
	if frameSize <= 0 {
		frameSize = NewZstd().FrameSize
	}
	return &zstdCompressor{w: w, frameSize: frameSize}, nil
}

type zstdCompressor struct {
	w         io.WriteSeeker
	frameSize int
	pending   bytes.Buffer
	uncOffset uint64
	compOffset uint64
	table     []seekTableEntry
}

func (c *zstdCompressor) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := c.frameSize - c.pending.Len()
		if room <= 0 {
			if err := c.flushFrame(); err != nil {
				return 0, err
			}
			room = c.frameSize
		}
		n := room
		if n > len(p) {
			n = len(p)
		}
		c.pending.Write(p[:n])
		p = p[n:]
	}
	return total, nil
}

func (c *zstdCompressor) flushFrame() error {
	if c.pending.Len() == 0 {
		return nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(c.pending.Bytes(), nil)
	if err := enc.Close(); err != nil {
		return err
	}
	n, err := c.w.Write(compressed)
	if err != nil {
		return err
	}
	c.table = append(c.table, seekTableEntry{
		uncompressedOffset: c.uncOffset,
		uncompressedSize:   uint64(c.pending.Len()),
		compressedOffset:   c.compOffset,
		compressedSize:     uint64(n),
	})
	c.uncOffset += uint64(c.pending.Len())
	c.compOffset += uint64(n)
	c.pending.Reset()
	return nil
}

// End flushes any buffered data and appends the seek table plus a fixed-
// size footer (table offset, frame count, magic) so a reader can find the
// table by seeking from the end of the stream.
func (c *zstdCompressor) End() error {
	if err := c.flushFrame(); err != nil {
		return err
	}
	tableOffset := c.compOffset

	var buf bytes.Buffer
	for _, e := range c.table {
		binary.Write(&buf, binary.LittleEndian, e.uncompressedOffset)
		binary.Write(&buf, binary.LittleEndian, e.uncompressedSize)
		binary.Write(&buf, binary.LittleEndian, e.compressedOffset)
		binary.Write(&buf, binary.LittleEndian, e.compressedSize)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return err
	}

	var footer bytes.Buffer
	binary.Write(&footer, binary.LittleEndian, tableOffset)
	binary.Write(&footer, binary.LittleEndian, uint32(len(c.table)))
	footer.Write(zstdSeekMagic[:])
	_, err := c.w.Write(footer.Bytes())
	return err
}

const footerSize = 8 + 4 + 8 // tableOffset(u64) + frameCount(u32) + magic(8)

func (Zstd) NewDecompressor(r io.ReadSeeker) (Decompressor, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if end < footerSize {
		return nil, fmt.Errorf("compression: zstd stream too short to contain a seek-table footer")
	}

	footer := make([]byte, footerSize)
	if _, err := r.Seek(end-footerSize, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, footer); err != nil {
		return nil, err
	}
	if !bytes.Equal(footer[12:20], zstdSeekMagic[:]) {
		return nil, fmt.Errorf("compression: bad zstd seek-table magic")
	}
	tableOffset := binary.LittleEndian.Uint64(footer[0:8])
	frameCount := binary.LittleEndian.Uint32(footer[8:12])

	tableBytes := make([]byte, int64(end)-footerSize-int64(tableOffset))
	if _, err := r.Seek(int64(tableOffset), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, tableBytes); err != nil {
		return nil, err
	}

	table := make([]seekTableEntry, frameCount)
	tr := bytes.NewReader(tableBytes)
	for i := range table {
		binary.Read(tr, binary.LittleEndian, &table[i].uncompressedOffset)
		binary.Read(tr, binary.LittleEndian, &table[i].uncompressedSize)
		binary.Read(tr, binary.LittleEndian, &table[i].compressedOffset)
		binary.Read(tr, binary.LittleEndian, &table[i].compressedSize)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &zstdDecompressor{r: r, table: table, dec: dec}, nil
}

type zstdDecompressor struct {
	r     io.ReadSeeker
	table []seekTableEntry
	dec   *zstd.Decoder

	pos int64

	curFrame   int
	curFrameOK bool
	curData    []byte
}

func (d *zstdDecompressor) totalSize() uint64 {
	if len(d.table) == 0 {
		return 0
	}
	last := d.table[len(d.table)-1]
	return last.uncompressedOffset + last.uncompressedSize
}

func (d *zstdDecompressor) UncompressedLength() (uint64, error) {
	return d.totalSize(), nil
}

func (d *zstdDecompressor) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = d.pos + offset
	case io.SeekEnd:
		newPos = int64(d.totalSize()) + offset
	default:
		return 0, fmt.Errorf("compression: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("compression: negative seek position")
	}
	d.pos = newPos
	return d.pos, nil
}

func (d *zstdDecompressor) frameFor(pos uint64) (int, bool) {
	for i, e := range d.table {
		if pos >= e.uncompressedOffset && pos < e.uncompressedOffset+e.uncompressedSize {
			return i, true
		}
	}
	return 0, false
}

func (d *zstdDecompressor) loadFrame(idx int) error {
	if d.curFrameOK && d.curFrame == idx {
		return nil
	}
	e := d.table[idx]
	compressed := make([]byte, e.compressedSize)
	if _, err := d.r.Seek(int64(e.compressedOffset), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(d.r, compressed); err != nil {
		return err
	}
	data, err := d.dec.DecodeAll(compressed, nil)
	if err != nil {
		return err
	}
	d.curData = data
	d.curFrame = idx
	d.curFrameOK = true
	return nil
}

func (d *zstdDecompressor) Read(p []byte) (int, error) {
	total := uint64(d.totalSize())
	if uint64(d.pos) >= total {
		return 0, io.EOF
	}
	idx, ok := d.frameFor(uint64(d.pos))
	if !ok {
		return 0, io.EOF
	}
	if err := d.loadFrame(idx); err != nil {
		return 0, err
	}
	e := d.table[idx]
	withinFrame := uint64(d.pos) - e.uncompressedOffset
	n := copy(p, d.curData[withinFrame:])
	d.pos += int64(n)
	return n, nil
}

func (d *zstdDecompressor) Close() error {
	d.dec.Close()
	return nil
}
