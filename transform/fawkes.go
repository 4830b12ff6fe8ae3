package transform

import "github.com/artorize/gateway/rng"

// Fawkes applies additive Gaussian noise to the R, G and B channels of
// every pixel (alpha is left as is),
// matching protection_pipeline.py's _apply_fawkes_like: noise drawn from
// N(0, 6.5), added, then clipped back to [0, 255].
func Fawkes(src *Frame, source *rng.Source) *Frame {
	out := src.Clone()
	for i := 0; i < len(out.Pix); i++ {
		if i%4 == 3 {
			continue // alpha channel is left untouched
		}
		noise := source.Normal(0.0, 6.5)
		out.Pix[i] = clip8(float64(src.Pix[i]) + noise)
	}
	return out
}
