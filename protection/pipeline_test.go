package protection_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/artorize/gateway/protection"
	"github.com/artorize/gateway/transform"
)

func newTestFrame(w, h int) *transform.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7 % 256), G: uint8(y * 13 % 256), B: 80, A: 255})
		}
	}
	return transform.FromImage(img)
}

func TestApplyLayers_ProducesOriginalAndFinalLayers(t *testing.T) {
	frame := newTestFrame(64, 48)
	cfg := protection.DefaultWorkflowConfig()

	result, err := protection.ApplyLayers(frame, cfg, 0)
	if err != nil {
		t.Fatalf("ApplyLayers: %v", err)
	}
	if len(result.Layers) < 2 {
		t.Fatalf("expected at least original + final layers, got %d", len(result.Layers))
	}
	if result.Layers[0].Record.Stage != "original" {
		t.Errorf("first layer stage = %q, want original", result.Layers[0].Record.Stage)
	}
	last := result.Layers[len(result.Layers)-1]
	if last.Record.Stage != "final-comparison" {
		t.Errorf("last layer stage = %q, want final-comparison", last.Record.Stage)
	}
	if last.MaskSAC == nil {
		t.Error("expected final-comparison layer to carry a SAC mask")
	}
}

func TestApplyLayers_ZeroSeedMatchesDefaultSeed(t *testing.T) {
	frame := newTestFrame(32, 32)
	cfg := protection.DefaultWorkflowConfig()

	r1, err := protection.ApplyLayers(frame, cfg, 0)
	if err != nil {
		t.Fatalf("ApplyLayers(seed=0): %v", err)
	}
	r2, err := protection.ApplyLayers(frame, cfg, 20240917)
	if err != nil {
		t.Fatalf("ApplyLayers(seed=DefaultSeed): %v", err)
	}
	if len(r1.Layers) != len(r2.Layers) {
		t.Fatalf("layer count differs: %d vs %d", len(r1.Layers), len(r2.Layers))
	}
	for i := range r1.Layers {
		if string(r1.Layers[i].ImageBytes) != string(r2.Layers[i].ImageBytes) {
			t.Fatalf("layer %d image bytes differ between seed=0 and seed=DefaultSeed", i)
		}
	}
}

func TestApplyLayers_Deterministic(t *testing.T) {
	frame := newTestFrame(40, 40)
	cfg := protection.DefaultWorkflowConfig()

	r1, err := protection.ApplyLayers(frame, cfg, 99)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	r2, err := protection.ApplyLayers(frame, cfg, 99)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	for i := range r1.Layers {
		if string(r1.Layers[i].ImageBytes) != string(r2.Layers[i].ImageBytes) {
			t.Fatalf("layer %d not reproducible across runs with the same seed", i)
		}
	}
}

func TestApplyLayers_DownscalesLargeFrames(t *testing.T) {
	frame := newTestFrame(protection.MaxStageDim+100, 200)
	cfg := protection.DefaultWorkflowConfig()
	cfg.EnableFawkes = true
	cfg.EnablePhotoGuard = false
	cfg.EnableMist = false
	cfg.EnableNightshade = false
	cfg.WatermarkStrategy = protection.WatermarkNone
	cfg.EnableC2PAManifest = false

	result, err := protection.ApplyLayers(frame, cfg, 1)
	if err != nil {
		t.Fatalf("ApplyLayers: %v", err)
	}
	for _, l := range result.Layers {
		if l.Record.Stage == "fawkes" {
			if l.Record.ProcessingWidth > protection.MaxStageDim {
				t.Errorf("processing width %d exceeds MaxStageDim %d", l.Record.ProcessingWidth, protection.MaxStageDim)
			}
		}
	}
	if result.FinalFrame.Width != frame.Width || result.FinalFrame.Height != frame.Height {
		t.Errorf("final frame dims %dx%d, want original %dx%d",
			result.FinalFrame.Width, result.FinalFrame.Height, frame.Width, frame.Height)
	}
}

func TestBuildProjectStatus_MarksAppliedStages(t *testing.T) {
	layers := []protection.LayerRecord{
		{Stage: "fawkes"},
		{Stage: "nightshade", Error: "boom"},
	}
	statuses := protection.BuildProjectStatus(layers, nil)

	var fawkes, nightshade *protection.ProjectStatus
	for i := range statuses {
		switch statuses[i].Project.Stage {
		case "fawkes":
			fawkes = &statuses[i]
		case "nightshade":
			nightshade = &statuses[i]
		}
	}
	if fawkes == nil || !fawkes.Applied {
		t.Error("expected fawkes to be marked applied")
	}
	if nightshade == nil || nightshade.Applied {
		t.Error("expected nightshade with a recorded error to be marked not applied")
	}
}
