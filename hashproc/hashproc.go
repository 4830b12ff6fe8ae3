// Package hashproc computes perceptual similarity hashes over a decoded
// image, the Go equivalent of hash_extractor.py's imagehash/blockhash
// suite. No pure-Go port of either Python library appears anywhere in
// the retrieved example pack, so these are implemented directly against
// the standard library's image package (see DESIGN.md for the
// justification).
package hashproc

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	apperrors "github.com/artorize/gateway/errors"
)

// Result is the hash suite for one image, matching hash_extractor.py's
// extract_hashes return shape.
type Result struct {
	Hashes   map[string]string `json:"hashes"`
	Metadata Metadata          `json:"metadata"`
	Error    string            `json:"error,omitempty"`
}

// Metadata mirrors the small metadata block extract_hashes attaches
// alongside the computed hashes.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// knownTypes lists every hash this package can compute, matching
// hash_extractor.py's supported set: perceptual (phash), average
// (ahash), difference (dhash). wavelet_hash and color_hash are not
// implemented (no stdlib-practical equivalent without a DCT/wavelet
// library in the pack); requesting them sets Result.Error to an
// ErrUnsupportedHashType error rather than silently omitting it (only the
// first unsupported type is named there).
var knownTypes = map[string]bool{
	"perceptual_hash": true,
	"average_hash":    true,
	"difference_hash": true,
}

// Extract computes the requested hash types ("all" computes every known
// type) over img, matching the {hashes, metadata, error} shape of the
// original's extract_hashes.
func Extract(img image.Image, format string, hashTypes []string) Result {
	bounds := img.Bounds()
	res := Result{
		Hashes: map[string]string{},
		Metadata: Metadata{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Format: format,
		},
	}

	wanted := resolveTypes(hashTypes)
	for _, t := range wanted {
		switch t {
		case "perceptual_hash":
			res.Hashes[t] = hexPrefix(perceptualHash(img))
		case "average_hash":
			res.Hashes[t] = hexPrefix(averageHash(img))
		case "difference_hash":
			res.Hashes[t] = hexPrefix(differenceHash(img))
		default:
			// recorded as an error rather than silently dropped
			if res.Error == "" {
				res.Error = apperrors.Wrap(apperrors.CategoryInput, "hashproc.Extract",
					fmt.Errorf("%w: %s", apperrors.ErrUnsupportedHashType, t)).Error()
			}
		}
	}

	if len(res.Hashes) == 0 && res.Error == "" {
		res.Error = "no hashes could be computed"
	}
	return res
}

func resolveTypes(requested []string) []string {
	if len(requested) == 0 {
		return []string{"perceptual_hash", "average_hash", "difference_hash"}
	}
	for _, t := range requested {
		if t == "all" {
			return []string{"perceptual_hash", "average_hash", "difference_hash"}
		}
	}
	return requested
}

func hexPrefix(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func grayscale(img image.Image, w, h int) []uint8 {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst.Pix
}

// averageHash resizes to 8x8 grayscale, compares each pixel to the mean,
// and packs the 64 comparison bits into a uint64.
func averageHash(img image.Image) uint64 {
	pix := grayscale(img, 8, 8)
	var sum int
	for _, p := range pix {
		sum += int(p)
	}
	mean := sum / len(pix)

	var hash uint64
	for i, p := range pix {
		if int(p) >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// differenceHash resizes to 9x8 grayscale and sets each bit based on
// whether a pixel is brighter than its left neighbor.
func differenceHash(img image.Image) uint64 {
	pix := grayscale(img, 9, 8)
	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := pix[y*9+x]
			right := pix[y*9+x+1]
			if right > left {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// perceptualHash resizes to 32x32 grayscale, applies a coarse separable
// sum transform as a cheap DCT stand-in, and thresholds the low-frequency
// 8x8 corner against its median. It is a simplified approximation of the
// phash algorithm sufficient for near-duplicate comparisons, not a
// bit-exact port of imagehash's DCT-II implementation.
func perceptualHash(img image.Image) uint64 {
	const size = 32
	pix := grayscale(img, size, size)

	rowSums := make([][size]float64, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var acc float64
			for k := 0; k <= x; k++ {
				acc += float64(pix[y*size+k])
			}
			rowSums[y][x] = acc
		}
	}

	const small = 8
	block := make([]float64, small*small)
	for y := 0; y < small; y++ {
		for x := 0; x < small; x++ {
			block[y*small+x] = rowSums[y][x]
		}
	}

	sorted := append([]float64(nil), block...)
	insertionSort(sorted)
	median := sorted[len(sorted)/2]

	var hash uint64
	for i, v := range block {
		if v >= median {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func insertionSort(vals []float64) {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
}
