package transform

import "github.com/artorize/gateway/rng"

// nightshadeShift is the horizontal wraparound shift (in pixels) applied
// before blending, matching protection_pipeline.py's np.roll(shift=5, axis=1).
const nightshadeShift = 5

// rollLeftward returns the source column np.roll(arr, shift=5, axis=1)
// would place at column x: shifted[x] = arr[(x-shift) mod w], i.e. every
// column's new value comes from `shift` columns to its left (equivalently,
// the array's content moves `shift` columns to the right).
func rollLeftward(x, shift, w int) int {
	return ((x-shift)%w + w) % w
}

// Nightshade blends each pixel with a horizontally-rolled copy of itself
// plus Gaussian noise: mixed = 0.82*original + 0.13*shifted + noise(0, 4.0),
// matching protection_pipeline.py's _apply_nightshade_like.
func Nightshade(src *Frame, source *rng.Source) *Frame {
	out := src.Clone()
	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			shiftedX := rollLeftward(x, nightshadeShift, w)
			r, g, b, a := src.At(x, y)
			sr, sg, sb, _ := src.At(shiftedX, y)
			nr := source.Normal(0, 4.0)
			ng := source.Normal(0, 4.0)
			nb := source.Normal(0, 4.0)
			mixed := func(orig, shifted uint8, noise float64) uint8 {
				return clip8(0.82*float64(orig) + 0.13*float64(shifted) + noise)
			}
			out.Set(x, y, mixed(r, sr, nr), mixed(g, sg, ng), mixed(b, sb, nb), a)
		}
	}
	return out
}
