package runner_test

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/artorize/gateway/c2pa"
	"github.com/artorize/gateway/config"
	"github.com/artorize/gateway/jobmanager"
	"github.com/artorize/gateway/protection"
	"github.com/artorize/gateway/runner"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 60, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestProcessor_Process_WithProtection(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.png")
	writeTestPNG(t, inputPath, 64, 64)

	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	job := &jobmanager.Job{
		ID:                "job-1",
		Input:             jobmanager.Input{LocalPath: inputPath},
		IncludeProtection: true,
	}

	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Summary == nil {
		t.Fatal("expected a non-nil pipeline summary")
	}
	if len(result.Summary.Layers) < 2 {
		t.Fatalf("expected at least original + final layers, got %d", len(result.Summary.Layers))
	}

	summaryPath := filepath.Join(result.OutputDir, "summary.json")
	if _, err := os.Stat(summaryPath); err != nil {
		t.Errorf("expected summary.json to be written: %v", err)
	}
}

func TestProcessor_Process_WithoutProtectionWritesOriginalOnly(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.png")
	writeTestPNG(t, inputPath, 32, 32)

	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	job := &jobmanager.Job{
		ID:                "job-2",
		Input:             jobmanager.Input{LocalPath: inputPath},
		IncludeProtection: false,
	}

	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Summary.Layers) != 1 {
		t.Fatalf("expected exactly 1 (original) layer, got %d", len(result.Summary.Layers))
	}
	if result.Summary.Layers[0].Record.Stage != "original" {
		t.Errorf("stage = %q, want original", result.Summary.Layers[0].Record.Stage)
	}
}

func TestProcessor_Process_WithHashAnalysis(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.png")
	writeTestPNG(t, inputPath, 32, 32)

	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	job := &jobmanager.Job{
		ID:                  "job-3",
		Input:               jobmanager.Input{LocalPath: inputPath},
		IncludeHashAnalysis: true,
	}

	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.AnalysisRaw) == 0 {
		t.Fatal("expected non-empty analysis JSON")
	}
	var doc map[string]any
	if err := json.Unmarshal(result.AnalysisRaw, &doc); err != nil {
		t.Fatalf("analysis is not valid JSON: %v", err)
	}
}

func TestProcessor_Process_CustomWatermarkStrategy(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.png")
	writeTestPNG(t, inputPath, 48, 48)

	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	proc.WorkflowConfig = protection.DefaultWorkflowConfig()
	job := &jobmanager.Job{
		ID:                "job-4",
		Input:             jobmanager.Input{LocalPath: inputPath},
		IncludeProtection: true,
		WatermarkStrategy: string(protection.WatermarkTreeRing),
	}

	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	found := false
	for _, l := range result.Summary.Layers {
		if l.Record.Stage == "tree-ring" {
			found = true
		}
	}
	if !found {
		t.Error("expected a tree-ring layer when WatermarkStrategy is set to tree-ring")
	}
}

func TestProcessor_Process_AdaptiveCompressionReencodesFinalLayer(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.png")
	writeTestPNG(t, inputPath, 96, 96)

	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	proc.AdaptiveCompression = config.AdaptiveConfig{
		Enabled: true, TargetSizeBytes: 2048, MinQuality: 10, MaxQuality: 90, StepSize: 10,
	}
	job := &jobmanager.Job{
		ID:                "job-6",
		Input:             jobmanager.Input{LocalPath: inputPath},
		IncludeProtection: true,
	}

	result, err := proc.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	var final *protection.LayerArtifact
	for i := range result.Summary.Layers {
		if result.Summary.Layers[i].Record.Stage == "final-comparison" {
			final = &result.Summary.Layers[i]
		}
	}
	if final == nil {
		t.Fatal("expected a final-comparison layer")
	}
	if len(final.ImageBytes) == 0 {
		t.Error("expected non-empty re-encoded final layer bytes")
	}
}

func TestProcessor_Process_MissingInputFile(t *testing.T) {
	dir := t.TempDir()
	proc := runner.New(filepath.Join(dir, "output"), c2pa.NewSelfSignedSigner())
	job := &jobmanager.Job{
		ID:    "job-5",
		Input: jobmanager.Input{LocalPath: filepath.Join(dir, "does-not-exist.png")},
	}
	if _, err := proc.Process(context.Background(), job); err == nil {
		t.Error("expected an error for a missing input file")
	}
}
