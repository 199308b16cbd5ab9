package chunker

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func collectChunks(t *testing.T, data []byte, params Params) []Chunk {
	t.Helper()
	c, err := New(bytes.NewReader(data), params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var chunks []Chunk
	for {
		ch, _, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cases := []Params{
		{Min: 10, Avg: 5, Max: 20},  // min >= avg
		{Min: 10, Avg: 20, Max: 15}, // avg >= max
		{Min: 10, Avg: 20, Max: 25}, // ordered, but max - min (15) <= avg (20)
	}
	for _, p := range cases {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", p)
		}
	}
}

func TestValidateRejectsSmallSpread(t *testing.T) {
	// min < avg < max holds, but max - min == avg, must be strictly greater
	p := Params{Min: 10, Avg: 15, Max: 25}
	if err := p.Validate(); err == nil {
		t.Error("expected error when max-min == avg")
	}
}

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	chunks := collectChunks(t, nil, DefaultParams())
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input, want 0", len(chunks))
	}
}

func TestChunkLengthsWithinBounds(t *testing.T) {
	params := Params{Min: 1024, Avg: 4096, Max: 16384}
	rnd := rand.New(rand.NewSource(42))
	data := make([]byte, 1<<20)
	rnd.Read(data)

	chunks := collectChunks(t, data, params)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	var total uint64
	for i, c := range chunks {
		total += c.Length
		if i < len(chunks)-1 {
			if c.Length < uint64(params.Min) || c.Length > uint64(params.Max) {
				t.Errorf("chunk %d length %d out of [%d,%d]", i, c.Length, params.Min, params.Max)
			}
		}
	}
	if total != uint64(len(data)) {
		t.Errorf("chunk lengths sum to %d, want %d", total, len(data))
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	params := Params{Min: 512, Avg: 2048, Max: 8192}
	rnd := rand.New(rand.NewSource(7))
	data := make([]byte, 500000)
	rnd.Read(data)

	a := collectChunks(t, data, params)
	b := collectChunks(t, data, params)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestLocalEditOnlyShiftsNearbyBoundaries(t *testing.T) {
	params := Params{Min: 256, Avg: 1024, Max: 4096}
	rnd := rand.New(rand.NewSource(99))
	data := make([]byte, 200000)
	rnd.Read(data)

	edited := append([]byte(nil), data...)
	mid := len(edited) / 2
	copy(edited[mid:mid+8], []byte("INSERTED"))

	orig := collectChunks(t, data, params)
	changed := collectChunks(t, edited, params)

	origDigests := map[string]bool{}
	for _, c := range orig {
		origDigests[c.Digest.String()] = true
	}
	shared := 0
	for _, c := range changed {
		if origDigests[c.Digest.String()] {
			shared++
		}
	}
	if shared == 0 {
		t.Error("expected at least some chunks to survive a small local edit")
	}
}
