package sac_test

import (
	"testing"

	"github.com/artorize/gateway/sac"
	"github.com/artorize/gateway/transform"
)

func TestEncodeSingle_RoundTrip(t *testing.T) {
	a := []int16{1, -2, 3, -4, 32767, -32768}
	data := sac.EncodeSingle(a, 2, 3)

	blob, err := sac.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if blob.Header.Flags&sac.FlagSingleArray == 0 {
		t.Error("expected FlagSingleArray to be set")
	}
	if blob.Header.ArraysCount != 1 {
		t.Errorf("ArraysCount = %d, want 1", blob.Header.ArraysCount)
	}
	if blob.Header.Width != 2 || blob.Header.Height != 3 {
		t.Errorf("dims = %dx%d, want 2x3", blob.Header.Width, blob.Header.Height)
	}
	if blob.B != nil {
		t.Error("expected B to be nil for single-array blob")
	}
	if len(blob.A) != len(a) {
		t.Fatalf("len(A) = %d, want %d", len(blob.A), len(a))
	}
	for i, v := range a {
		if blob.A[i] != v {
			t.Errorf("A[%d] = %d, want %d", i, blob.A[i], v)
		}
	}
}

func TestEncodePair_RoundTrip(t *testing.T) {
	a := []int16{10, 20, 30}
	b := []int16{-1, -2, -3}
	data := sac.EncodePair(a, b, 3, 1)

	blob, err := sac.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if blob.Header.ArraysCount != 2 {
		t.Errorf("ArraysCount = %d, want 2", blob.Header.ArraysCount)
	}
	if len(blob.B) != len(b) {
		t.Fatalf("len(B) = %d, want %d", len(blob.B), len(b))
	}
	for i, v := range b {
		if blob.B[i] != v {
			t.Errorf("B[%d] = %d, want %d", i, blob.B[i], v)
		}
	}
}

func TestDecode_BadMagic(t *testing.T) {
	data := sac.EncodeSingle([]int16{1}, 1, 1)
	data[0] = 'X'
	if _, err := sac.Decode(data); err == nil {
		t.Error("expected error for corrupted magic")
	}
}

func TestDecode_TooSmall(t *testing.T) {
	if _, err := sac.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for undersized blob")
	}
}

func TestDecode_Truncated(t *testing.T) {
	data := sac.EncodeSingle([]int16{1, 2, 3, 4}, 2, 2)
	truncated := data[:len(data)-2]
	if _, err := sac.Decode(truncated); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestEncodeDecodeDifference_RoundTrip(t *testing.T) {
	diff := []int32{0, 1, -1, 32767, -32768, 100, -100}
	hi, lo, err := sac.EncodeDifference(diff)
	if err != nil {
		t.Fatalf("EncodeDifference: %v", err)
	}
	if len(hi) != len(diff) || len(lo) != len(diff) {
		t.Fatalf("plane lengths = %d/%d, want %d", len(hi), len(lo), len(diff))
	}

	got := sac.DecodeDifference(hi, lo)
	if len(got) != len(diff) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(diff))
	}
	for i, want := range diff {
		if int32(got[i]) != want {
			t.Errorf("value %d: got %d, want %d", i, got[i], want)
		}
	}
}

func TestEncodeDifference_OutOfRange(t *testing.T) {
	if _, _, err := sac.EncodeDifference([]int32{100000}); err == nil {
		t.Error("expected ErrSACRangeExceeded for out-of-range difference")
	}
	if _, _, err := sac.EncodeDifference([]int32{-100000}); err == nil {
		t.Error("expected ErrSACRangeExceeded for out-of-range negative difference")
	}
}

func TestComputeMask_ZeroDiffForIdenticalFrames(t *testing.T) {
	f := transform.NewFrame(4, 4)
	for i := range f.Pix {
		f.Pix[i] = 100
	}
	mask, err := sac.ComputeMask(f, f)
	if err != nil {
		t.Fatalf("ComputeMask: %v", err)
	}
	if mask.DiffStats.MeanAbsDiff != 0 {
		t.Errorf("MeanAbsDiff = %v, want 0 for identical frames", mask.DiffStats.MeanAbsDiff)
	}
	if mask.DiffStats.NonzeroRatio != 0 {
		t.Errorf("NonzeroRatio = %v, want 0", mask.DiffStats.NonzeroRatio)
	}

	blob, err := sac.Decode(mask.SACBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, v := range blob.A {
		if v != 0 {
			t.Fatalf("expected all-zero mask, got %d", v)
		}
	}
}

func TestComputeMask_ReconstructRecoversOriginal(t *testing.T) {
	original := transform.NewFrame(3, 3)
	processed := transform.NewFrame(3, 3)
	for i := range original.Pix {
		original.Pix[i] = uint8(50 + i%40)
		processed.Pix[i] = uint8(30 + i%20)
	}

	mask, err := sac.ComputeMask(original, processed)
	if err != nil {
		t.Fatalf("ComputeMask: %v", err)
	}
	blob, err := sac.Decode(mask.SACBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	recon := sac.Reconstruct(processed, blob)
	for i := range recon.Pix {
		if recon.Pix[i] != original.Pix[i] {
			t.Errorf("pixel %d: got %d, want %d", i, recon.Pix[i], original.Pix[i])
		}
	}
}
