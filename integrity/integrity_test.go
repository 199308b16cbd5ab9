package integrity

import (
	"os"
	"testing"
)

func TestComputeFingerprintDeterministic(t *testing.T) {
	data := []byte("meshuggah rocks")
	a := ComputeFingerprint(data)
	b := ComputeFingerprint(data)
	if a != b {
		t.Fatal("ComputeFingerprint is not deterministic")
	}
}

func TestComputeFingerprintDiffersOnEdit(t *testing.T) {
	a := ComputeFingerprint([]byte("meshuggah rocks"))
	b := ComputeFingerprint([]byte("meshuggah rockz"))
	if a == b {
		t.Fatal("different content produced the same fingerprint")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "blob")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()

	data := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := tmp.Write(data); err != nil {
		t.Fatal(err)
	}
	fingerprint := ComputeFingerprint(data)

	if err := Verify(tmp, fingerprint); err != nil {
		t.Fatalf("Verify on unmodified file: %v", err)
	}

	if _, err := tmp.WriteAt([]byte("X"), 0); err != nil {
		t.Fatal(err)
	}
	if err := Verify(tmp, fingerprint); err == nil {
		t.Fatal("expected Verify to fail after corrupting the file")
	}
}
