// Package chunker implements content-defined chunking: splitting a byte
// stream into variable-length chunks at boundaries determined by a rolling
// hash over the data itself, so a local edit only perturbs nearby chunk
// boundaries (spec section 4.2). No third-party chunker library appears
// anywhere in the example corpus, so this is a from-scratch implementation
// of the FastCDC algorithm named as the spec's reference scheme — the same
// way the teacher hand-rolls its own squashfs block-table bit layout rather
// than reaching for a library, because the algorithm itself is the point.
package chunker

import (
	"io"

	"github.com/puzzlefs/go-puzzlefs/digest"
	"github.com/puzzlefs/go-puzzlefs/format"
)

// Default FastCDC parameters, chosen to keep the average chunk well under
// format.MaxChunkSize while still giving good deduplication on typical
// container-image file sizes.
const (
	DefaultMin = 2 * 1024 * 1024 / 4 // 512 KiB
	DefaultAvg = 2 * 1024 * 1024     // 2 MiB
	DefaultMax = 8 * 1024 * 1024     // 8 MiB
)

// Params bundles the three chunker knobs validated together.
type Params struct {
	Min, Avg, Max uint32
}

// DefaultParams returns the chunker defaults used when a caller supplies
// none (spec section 4.2).
func DefaultParams() Params {
	return Params{Min: DefaultMin, Avg: DefaultAvg, Max: DefaultMax}
}

// Validate enforces min < avg < max and max-min > avg (spec section 4.2).
func (p Params) Validate() error {
	if !(p.Min < p.Avg && p.Avg < p.Max) {
		return format.Newf(format.InvalidChunkerParams, "require min < avg < max, got min=%d avg=%d max=%d", p.Min, p.Avg, p.Max)
	}
	if p.Max-p.Min <= p.Avg {
		return format.Newf(format.InvalidChunkerParams, "require max-min > avg, got min=%d avg=%d max=%d", p.Min, p.Avg, p.Max)
	}
	if p.Max > format.MaxChunkSize {
		return format.Newf(format.InvalidChunkerParams, "max chunk size %d exceeds format.MaxChunkSize %d", p.Max, format.MaxChunkSize)
	}
	return nil
}

// Chunk describes one cut: the byte range [Offset, Offset+Length) of the
// input, and the digest of just that range.
type Chunk struct {
	Offset uint64
	Length uint64
	Digest digest.Digest
}

// gearTable is the FastCDC rolling-hash lookup table (Xia et al., "FastCDC:
// a Fast and Efficient Content-Defined Chunking Approach for Data
// Deduplication"). Generated once from a fixed seed; determinism (spec
// section 4.2) only requires that the same table always produce the same
// cuts for the same bytes, not which specific table.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	var x uint64 = 0x2545f4914f6cdd1d
	for i := range t {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		x += uint64(i)*0x9e3779b97f4a7c15 + 1
		t[i] = x
	}
	return t
}()

const normalizedLevel = 2

func maskFor(avg uint32) (maskLow, maskHigh uint64) {
	bits := 0
	for v := avg; v > 1; v >>= 1 {
		bits++
	}
	if bits > normalizedLevel {
		maskHigh = (1 << uint(bits+normalizedLevel)) - 1
		maskLow = (1 << uint(bits-normalizedLevel)) - 1
	} else {
		maskHigh = (1 << uint(bits)) - 1
		maskLow = maskHigh
	}
	return
}

// Chunker produces a lazy sequence of Chunk boundaries over an io.Reader.
// It is not safe for concurrent use.
type Chunker struct {
	r      io.Reader
	params Params
	offset uint64

	buf    []byte // bytes read but not yet returned in a chunk
	filled int     // valid bytes in buf
	eof    bool    // underlying reader is exhausted
	done   bool    // no more chunks left to emit
}

// New validates params and returns a Chunker reading from r. Pass
// DefaultParams() for the spec's default behavior.
func New(r io.Reader, params Params) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		r:      r,
		params: params,
		buf:    make([]byte, params.Max),
	}, nil
}

// fill tops buf up to params.Max bytes (from the start of the valid
// region), reading more from the underlying reader as needed.
func (c *Chunker) fill() error {
	for !c.eof && c.filled < len(c.buf) {
		n, err := c.r.Read(c.buf[c.filled:])
		c.filled += n
		if err != nil {
			if err == io.EOF {
				c.eof = true
				break
			}
			return err
		}
	}
	return nil
}

// Next returns the next chunk's metadata and its bytes. The returned slice
// is only valid until the next call to Next. io.EOF is returned once the
// input is exhausted with no more chunks to emit (including the empty-input
// case, per spec section 4.2's boundary case).
func (c *Chunker) Next() (Chunk, []byte, error) {
	if c.done {
		return Chunk{}, nil, io.EOF
	}
	if err := c.fill(); err != nil {
		return Chunk{}, nil, err
	}
	if c.filled == 0 {
		c.done = true
		return Chunk{}, nil, io.EOF
	}

	cut := c.cutPoint()
	chunkBytes := make([]byte, cut)
	copy(chunkBytes, c.buf[:cut])

	ch := Chunk{
		Offset: c.offset,
		Length: uint64(cut),
		Digest: digest.FromBytes(chunkBytes),
	}
	c.offset += uint64(cut)

	// Slide the remainder down to the front of buf.
	remaining := c.filled - cut
	copy(c.buf, c.buf[cut:c.filled])
	c.filled = remaining
	if remaining == 0 && c.eof {
		c.done = true
	}

	return ch, chunkBytes, nil
}

// cutPoint finds where, within c.buf[:c.filled], this chunk should end. If
// the buffer holds less than params.Max bytes, the whole buffer is the cut
// (this is necessarily the final chunk, per spec section 4.2: "min <=
// length <= max except possibly the final chunk").
func (c *Chunker) cutPoint() int {
	n := c.filled
	if uint32(n) < c.params.Max {
		return n
	}

	maskLow, maskHigh := maskFor(c.params.Avg)
	min := int(c.params.Min)
	avg := int(c.params.Avg)

	var hash uint64
	for i := min; i < n; i++ {
		hash = (hash << 1) + gearTable[c.buf[i]]
		if i < avg {
			if hash&maskHigh == 0 {
				return i + 1
			}
		} else {
			if hash&maskLow == 0 {
				return i + 1
			}
		}
	}
	return n
}
