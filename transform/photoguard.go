package transform

import "math"

// gaussianBlur applies a separable Gaussian blur with the given radius,
// matching PIL's ImageFilter.GaussianBlur(radius). PIL treats radius as
// the standard deviation of the kernel.
func gaussianBlur(src *Frame, radius float64) *Frame {
	sigma := radius
	if sigma <= 0 {
		return src.Clone()
	}
	kRadius := int(math.Ceil(sigma * 3))
	if kRadius < 1 {
		kRadius = 1
	}
	kernel := make([]float64, 2*kRadius+1)
	sum := 0.0
	for i := -kRadius; i <= kRadius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+kRadius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	horiz := NewFrame(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var rs, gs, bs, as float64
			for k := -kRadius; k <= kRadius; k++ {
				sx := x + k
				if sx < 0 {
					sx = 0
				}
				if sx >= src.Width {
					sx = src.Width - 1
				}
				r, g, b, a := src.At(sx, y)
				weight := kernel[k+kRadius]
				rs += float64(r) * weight
				gs += float64(g) * weight
				bs += float64(b) * weight
				as += float64(a) * weight
			}
			horiz.Set(x, y, clip8(rs), clip8(gs), clip8(bs), clip8(as))
		}
	}

	out := NewFrame(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var rs, gs, bs, as float64
			for k := -kRadius; k <= kRadius; k++ {
				sy := y + k
				if sy < 0 {
					sy = 0
				}
				if sy >= src.Height {
					sy = src.Height - 1
				}
				r, g, b, a := horiz.At(x, sy)
				weight := kernel[k+kRadius]
				rs += float64(r) * weight
				gs += float64(g) * weight
				bs += float64(b) * weight
				as += float64(a) * weight
			}
			out.Set(x, y, clip8(rs), clip8(gs), clip8(bs), clip8(as))
		}
	}
	return out
}

// findEdgesKernel is PIL's ImageFilter.FIND_EDGES 3x3 convolution kernel,
// used unnormalized as the edge term E rather than a normalized
// Sobel-gradient magnitude, matching protection_pipeline.py's actual
// _apply_photoguard_like (see DESIGN.md's Open Question resolutions for
// why this follows the original over the distilled spec text).
var findEdgesKernel = [3][3]float64{
	{-1, -1, -1},
	{-1, 8, -1},
	{-1, -1, -1},
}

func findEdges(src *Frame) *Frame {
	out := NewFrame(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var rs, gs, bs float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sx, sy := x+kx, y+ky
					if sx < 0 {
						sx = 0
					}
					if sx >= src.Width {
						sx = src.Width - 1
					}
					if sy < 0 {
						sy = 0
					}
					if sy >= src.Height {
						sy = src.Height - 1
					}
					r, g, b, _ := src.At(sx, sy)
					weight := findEdgesKernel[ky+1][kx+1]
					rs += float64(r) * weight
					gs += float64(g) * weight
					bs += float64(b) * weight
				}
			}
			_, _, _, a := src.At(x, y)
			out.Set(x, y, clip8(rs), clip8(gs), clip8(bs), a)
		}
	}
	return out
}

func blend(a, b *Frame, alpha float64) *Frame {
	out := NewFrame(a.Width, a.Height)
	for i := 0; i < len(out.Pix); i++ {
		if i%4 == 3 {
			out.Pix[i] = a.Pix[i]
			continue
		}
		out.Pix[i] = clip8((1-alpha)*float64(a.Pix[i]) + alpha*float64(b.Pix[i]))
	}
	return out
}

// PhotoGuard blurs the image, extracts edges, mixes blur and edges
// (0.6 blur + 0.4 edges), then blends that mix back into the original at
// 0.35 strength: result = 0.65*input + 0.35*(0.6*blur(r=1.6) + 0.4*edges).
func PhotoGuard(src *Frame) *Frame {
	blurred := gaussianBlur(src, 1.6)
	edges := findEdges(src)
	mixed := blend(blurred, edges, 0.4)
	return blend(src, mixed, 0.35)
}
