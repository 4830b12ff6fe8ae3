package transform_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/artorize/gateway/rng"
	"github.com/artorize/gateway/transform"
)

func newTestFrame(w, h int) *transform.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5 % 256), G: uint8(y * 11 % 256), B: 128, A: 255})
		}
	}
	return transform.FromImage(img)
}

func TestFromImage_ToImage_RoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	frame := transform.FromImage(img)
	if frame.Width != 4 || frame.Height != 3 {
		t.Fatalf("dims = %dx%d, want 4x3", frame.Width, frame.Height)
	}
	r, g, b, a := frame.At(1, 1)
	if r != 10 || g != 20 || b != 30 || a != 255 {
		t.Errorf("At(1,1) = %d,%d,%d,%d, want 10,20,30,255", r, g, b, a)
	}

	back := frame.ToImage()
	cr, cg, cb, ca := back.At(1, 1).RGBA()
	if uint8(cr>>8) != 10 || uint8(cg>>8) != 20 || uint8(cb>>8) != 30 || uint8(ca>>8) != 255 {
		t.Error("ToImage did not preserve pixel values")
	}
}

func TestFrame_Clone_IsIndependent(t *testing.T) {
	f := newTestFrame(10, 10)
	clone := f.Clone()
	clone.Set(0, 0, 1, 2, 3, 4)

	r, g, b, a := f.At(0, 0)
	cr, cg, cb, ca := clone.At(0, 0)
	if r == cr && g == cg && b == cb && a == ca {
		t.Error("mutating the clone affected the original frame")
	}
}

func TestFawkes_Deterministic(t *testing.T) {
	f := newTestFrame(20, 20)
	out1 := transform.Fawkes(f, rng.NewSeeded(5))
	out2 := transform.Fawkes(f, rng.NewSeeded(5))
	if string(out1.Pix) != string(out2.Pix) {
		t.Error("Fawkes with the same seed produced different output")
	}

	out3 := transform.Fawkes(f, rng.NewSeeded(6))
	if string(out1.Pix) == string(out3.Pix) {
		t.Error("Fawkes with different seeds produced identical output")
	}
}

func TestFawkes_PreservesDimensions(t *testing.T) {
	f := newTestFrame(33, 17)
	out := transform.Fawkes(f, rng.New())
	if out.Width != f.Width || out.Height != f.Height {
		t.Errorf("dims changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
}

func TestPhotoGuard_PreservesDimensions(t *testing.T) {
	f := newTestFrame(25, 25)
	out := transform.PhotoGuard(f)
	if out.Width != f.Width || out.Height != f.Height {
		t.Errorf("dims changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
}

func TestMist_PreservesDimensions(t *testing.T) {
	f := newTestFrame(16, 16)
	out := transform.Mist(f)
	if out.Width != f.Width || out.Height != f.Height {
		t.Errorf("dims changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
}

func TestNightshade_Deterministic(t *testing.T) {
	f := newTestFrame(18, 18)
	out1 := transform.Nightshade(f, rng.NewSeeded(3))
	out2 := transform.Nightshade(f, rng.NewSeeded(3))
	if string(out1.Pix) != string(out2.Pix) {
		t.Error("Nightshade with the same seed produced different output")
	}
}

func TestTreeRing_PreservesDimensionsAndZeroAmplitudeIsIdentity(t *testing.T) {
	f := newTestFrame(40, 40)
	out := transform.TreeRing(f, 9.0, 18.0)
	if out.Width != f.Width || out.Height != f.Height {
		t.Errorf("dims changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
	// A zero amplitude should leave pixels unchanged.
	same := transform.TreeRing(f, 9.0, 0)
	if string(same.Pix) != string(f.Pix) {
		t.Error("TreeRing with zero amplitude altered pixel data")
	}
}

func TestInvisibleWatermark_AltersPixels(t *testing.T) {
	f := newTestFrame(64, 64)
	out := transform.InvisibleWatermark(f, "artorize")
	if out.Width != f.Width || out.Height != f.Height {
		t.Errorf("dims changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
	if string(out.Pix) == string(f.Pix) {
		t.Error("InvisibleWatermark did not alter any pixel data")
	}
}

func TestSteganoEmbed_AltersPixels(t *testing.T) {
	f := newTestFrame(64, 64)
	out := transform.SteganoEmbed(f, "hello")
	if string(out.Pix) == string(f.Pix) {
		t.Error("SteganoEmbed did not alter any pixel data")
	}
}
