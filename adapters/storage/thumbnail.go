package storage

import (
	"bytes"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// ThumbnailMaxDim and ThumbnailQuality match image_storage.py's
// _generate_thumbnail: a 300x300 bounding box, JPEG quality 85.
const (
	ThumbnailMaxDim  = 300
	ThumbnailQuality = 85
)

// GenerateThumbnail downscales img to fit within ThumbnailMaxDim on its
// longest side, preserving aspect ratio, and encodes it as JPEG.
func GenerateThumbnail(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errImageEmpty
	}

	tw, th := w, h
	if w > h && w > ThumbnailMaxDim {
		th = int(float64(h) * float64(ThumbnailMaxDim) / float64(w))
		tw = ThumbnailMaxDim
	} else if h >= w && h > ThumbnailMaxDim {
		tw = int(float64(w) * float64(ThumbnailMaxDim) / float64(h))
		th = ThumbnailMaxDim
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errImageEmpty = &thumbnailError{"storage: cannot thumbnail an empty image"}

type thumbnailError struct{ msg string }

func (e *thumbnailError) Error() string { return e.msg }
