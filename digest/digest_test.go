package digest

import "testing"

func TestFromBytesMeshuggah(t *testing.T) {
	d := FromBytes([]byte("meshuggah rocks"))
	const want = "3abd5ce0f91f640d88dca1f26b37037b02415927cacec9626d87668a715ec12d"
	if got := d.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := FromBytes([]byte("hello"))
	p, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p != d {
		t.Errorf("Parse(%s) = %v, want %v", d, p, d)
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Error("expected error for short digest")
	}
}

func TestHasherMatchesFromBytes(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("meshuggah "))
	_, _ = h.Write([]byte("rocks"))
	if got, want := h.Sum(), FromBytes([]byte("meshuggah rocks")); got != want {
		t.Errorf("Hasher.Sum() = %s, want %s", got, want)
	}
}

func TestLessOrdering(t *testing.T) {
	a := Digest{0x01}
	b := Digest{0x02}
	if !Less(a, b) || Less(b, a) {
		t.Error("Less ordering broken")
	}
}
