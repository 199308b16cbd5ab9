package compression

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/orcaman/writerseeker"
)

func allCodecs() []Codec {
	return []Codec{Noop{}, NewZstd(), NewXZ(), NewGzip()}
}

func compressAll(t *testing.T, c Codec, data []byte) []byte {
	t.Helper()
	var ws writerseeker.WriterSeeker
	comp, err := c.NewCompressor(&ws)
	if err != nil {
		t.Fatalf("%s: NewCompressor: %v", c.Name(), err)
	}
	if _, err := comp.Write(data); err != nil {
		t.Fatalf("%s: Write: %v", c.Name(), err)
	}
	if err := comp.End(); err != nil {
		t.Fatalf("%s: End: %v", c.Name(), err)
	}
	return ws.BytesReader().Bytes()
}

func TestRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("puzzlefs content-addressed storage "), 4096)

	for _, c := range allCodecs() {
		c := c
		t.Run(c.Name(), func(t *testing.T) {
			compressed := compressAll(t, c, data)

			dec, err := c.NewDecompressor(bytes.NewReader(compressed))
			if err != nil {
				t.Fatalf("NewDecompressor: %v", err)
			}
			defer dec.Close()

			got, err := io.ReadAll(dec)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
			}

			length, err := dec.UncompressedLength()
			if err != nil {
				t.Fatalf("UncompressedLength: %v", err)
			}
			if length != uint64(len(data)) {
				t.Fatalf("UncompressedLength = %d, want %d", length, len(data))
			}
		})
	}
}

func TestSeekToArbitraryOffset(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	data = bytes.Repeat(data, 1000)

	offsets := []int64{0, 1, 17, int64(len(data) / 2), int64(len(data) - 1), int64(len(data))}

	for _, c := range allCodecs() {
		c := c
		compressed := compressAll(t, c, data)

		for _, off := range offsets {
			name := fmt.Sprintf("%s/offset=%d", c.Name(), off)
			t.Run(name, func(t *testing.T) {
				dec, err := c.NewDecompressor(bytes.NewReader(compressed))
				if err != nil {
					t.Fatalf("NewDecompressor: %v", err)
				}
				defer dec.Close()

				if _, err := dec.Seek(off, io.SeekStart); err != nil {
					t.Fatalf("Seek: %v", err)
				}
				got, err := io.ReadAll(dec)
				if err != nil {
					t.Fatalf("ReadAll after seek: %v", err)
				}
				want := data[off:]
				if !bytes.Equal(got, want) {
					t.Fatalf("after seeking to %d: got %d bytes, want %d", off, len(got), len(want))
				}
			})
		}
	}
}

func TestEmptyInput(t *testing.T) {
	for _, c := range allCodecs() {
		c := c
		t.Run(c.Name(), func(t *testing.T) {
			compressed := compressAll(t, c, nil)

			dec, err := c.NewDecompressor(bytes.NewReader(compressed))
			if err != nil {
				t.Fatalf("NewDecompressor: %v", err)
			}
			defer dec.Close()

			got, err := io.ReadAll(dec)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty output, got %d bytes", len(got))
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, c := range allCodecs() {
		got, ok := ByName(c.Name())
		if !ok {
			t.Fatalf("ByName(%q) not found", c.Name())
		}
		if got.Name() != c.Name() {
			t.Fatalf("ByName(%q).Name() = %q", c.Name(), got.Name())
		}
	}
	if _, ok := ByName("bogus"); ok {
		t.Fatal("ByName(\"bogus\") unexpectedly found")
	}
}
