package sac

import (
	"math"

	"github.com/artorize/gateway/transform"
)

// DiffStats summarizes the magnitude of a reversibility difference,
// matching processor.py's compute_mask diff_stats dict.
type DiffStats struct {
	MeanAbsDiff  float64 `json:"mean_abs_diff"`
	MaxAbsDiff   float64 `json:"max_abs_diff"`
	NonzeroRatio float64 `json:"nonzero_ratio"`
}

// Mask is the reversibility mask for one stage transition: the signed
// per-channel difference (original minus processed) encoded as SAC bytes,
// plus the stats recorded alongside it in the layer's mask metadata.
type Mask struct {
	SACBytes  []byte
	Width     int
	Height    int
	Channels  int
	DiffMin   int32
	DiffMax   int32
	DiffStats DiffStats
}

// ComputeMask computes d = original - processed over all four RGBA
// channels and packs it as a single flat int16 SAC array, resolving Open
// Question (c): every mask is a single-array, 4-channel-interleaved blob,
// never a two-array channel split.
func ComputeMask(original, processed *transform.Frame) (*Mask, error) {
	n := len(original.Pix)
	diff := make([]int32, n)
	var sumAbs float64
	var maxAbs float64
	nonzero := 0
	minD, maxD := int32(0), int32(0)
	for i := 0; i < n; i++ {
		d := int32(original.Pix[i]) - int32(processed.Pix[i])
		diff[i] = d
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
		abs := math.Abs(float64(d))
		sumAbs += abs
		if abs > maxAbs {
			maxAbs = abs
		}
		if d != 0 {
			nonzero++
		}
	}

	flat := make([]int16, n)
	for i, d := range diff {
		flat[i] = int16(d)
	}
	sacBytes := EncodeSingle(flat, original.Width, original.Height)

	return &Mask{
		SACBytes: sacBytes,
		Width:    original.Width,
		Height:   original.Height,
		Channels: 4,
		DiffMin:  minD,
		DiffMax:  maxD,
		DiffStats: DiffStats{
			MeanAbsDiff:  sumAbs / float64(n),
			MaxAbsDiff:   maxAbs,
			NonzeroRatio: float64(nonzero) / float64(n),
		},
	}, nil
}

// Reconstruct recreates the original frame from a processed frame and a
// decoded SAC mask blob: original = clip(processed + diff, 0, 255),
// matching processor.py's reconstruct_preview.
func Reconstruct(processed *transform.Frame, blob *Blob) *transform.Frame {
	out := processed.Clone()
	for i := 0; i < len(out.Pix) && i < len(blob.A); i++ {
		v := int32(processed.Pix[i]) + int32(blob.A[i])
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		out.Pix[i] = uint8(v)
	}
	return out
}
