package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// TreeRing adds a radial sinusoidal ring pattern centered on the image,
// matching protection_pipeline.py's _apply_tree_ring: rings =
// sin(radial/frequency) * amplitude, added to every channel and clipped.
// The ring field itself is built as a dense matrix (one sample per pixel)
// since it is a pure function of position shared across all three
// channels — a natural fit for gonum's mat.Dense rather than a bespoke
// nested loop duplicated per channel.
func TreeRing(src *Frame, frequency, amplitude float64) *Frame {
	if frequency <= 0 {
		frequency = 1e-5
	}
	cx := float64(src.Width) / 2.0
	cy := float64(src.Height) / 2.0

	field := mat.NewDense(src.Height, src.Width, nil)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			radial := math.Sqrt(dx*dx + dy*dy)
			field.Set(y, x, math.Sin(radial/frequency)*amplitude)
		}
	}

	out := src.Clone()
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			ring := field.At(y, x)
			r, g, b, a := src.At(x, y)
			out.Set(x, y,
				clip8(float64(r)+ring),
				clip8(float64(g)+ring),
				clip8(float64(b)+ring),
				a,
			)
		}
	}
	return out
}
