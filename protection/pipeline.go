// Package protection orchestrates the pixel transform stages in
// transform into the full per-image protection run: it sequences stages,
// resamples between a bounded working resolution and the original
// resolution, computes a reversibility mask for every transition, and
// assembles the summary (layers + project status) persisted per job.
package protection

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/artorize/gateway/rng"
	"github.com/artorize/gateway/sac"
	"github.com/artorize/gateway/transform"
)

// LayerRecord is one entry in summary.json's layers array.
type LayerRecord struct {
	Stage               string         `json:"stage"`
	Description         string         `json:"description"`
	Path                string         `json:"path"`
	ProcessingWidth      int           `json:"processing_width"`
	ProcessingHeight     int           `json:"processing_height"`
	MaskPath            string         `json:"mask_path,omitempty"`
	PoisonMaskHiPath    string         `json:"poison_mask_hi_path,omitempty"`
	PoisonMaskLoPath    string         `json:"poison_mask_lo_path,omitempty"`
	PoisonMetadataPath  string         `json:"poison_metadata_path,omitempty"`
	DiffStats           *sac.DiffStats `json:"diff_stats,omitempty"`
	Error               string         `json:"error,omitempty"`
	IsProtectionLayer   bool           `json:"-"`
	HasSACMask          bool           `json:"-"`
}

// LayerArtifact pairs a record with the bytes that need to be persisted
// by the caller: the layer's rendered image and, if present, its SAC mask.
type LayerArtifact struct {
	Record     LayerRecord
	ImageBytes []byte
	MaskSAC    []byte
}

// Result is the full output of one ApplyLayers run.
type Result struct {
	Layers        []LayerArtifact
	FinalFrame    *transform.Frame
	OriginalFrame *transform.Frame
	Projects      []ProjectStatus
}

// ApplyLayers runs the configured stage sequence over original, producing
// one layer artifact per stage plus the original and final-comparison
// layers, matching protection_pipeline.py's _apply_layers. A zero seed
// means "use rng.DefaultSeed", since Go's zero value for int64 can't be
// distinguished from an explicit 0 otherwise.
func ApplyLayers(original *transform.Frame, cfg WorkflowConfig, seed int64) (*Result, error) {
	if seed == 0 {
		seed = rng.DefaultSeed
	}
	source := rng.NewSeeded(seed)

	originalW, originalH := original.Width, original.Height
	working := original
	if maxDim(originalW, originalH) > MaxStageDim {
		w, h := scaledDims(originalW, originalH, MaxStageDim)
		working = resample(original, w, h)
	}

	result := &Result{OriginalFrame: original}

	originalBytes, err := encodePNG(original)
	if err != nil {
		return nil, err
	}
	result.Layers = append(result.Layers, LayerArtifact{
		Record: LayerRecord{
			Stage:            "original",
			Description:      "Unmodified input image",
			Path:             "00-original",
			ProcessingWidth:  originalW,
			ProcessingHeight: originalH,
		},
		ImageBytes: originalBytes,
	})

	previousFull := original
	stages := BuildStageSequence(cfg)
	for i, stage := range stages {
		processedWorking := stage.Apply(working, source)

		fullSize := processedWorking
		if processedWorking.Width != originalW || processedWorking.Height != originalH {
			fullSize = resample(processedWorking, originalW, originalH)
		}

		artifact := LayerArtifact{Record: LayerRecord{
			Stage:             stage.Key,
			Description:       stage.Description,
			Path:              stageDirName(i+1, stage.Key),
			ProcessingWidth:   processedWorking.Width,
			ProcessingHeight:  processedWorking.Height,
			IsProtectionLayer: true,
		}}

		imgBytes, err := encodePNG(fullSize)
		if err != nil {
			artifact.Record.Error = err.Error()
		} else {
			artifact.ImageBytes = imgBytes
		}

		if cfg.EnablePoisonMask && artifact.Record.Error == "" {
			mask, merr := sac.ComputeMask(previousFull, fullSize)
			if merr != nil {
				artifact.Record.Error = merr.Error()
			} else {
				artifact.MaskSAC = mask.SACBytes
				artifact.Record.MaskPath = stageDirName(i+1, stage.Key) + "/mask.sac"
				artifact.Record.PoisonMaskHiPath = stageDirName(i+1, stage.Key) + "/mask_hi.png"
				artifact.Record.PoisonMaskLoPath = stageDirName(i+1, stage.Key) + "/mask_lo.png"
				artifact.Record.PoisonMetadataPath = stageDirName(i+1, stage.Key) + "/mask_metadata.json"
				artifact.Record.DiffStats = &mask.DiffStats
				artifact.Record.HasSACMask = true
			}
		}

		result.Layers = append(result.Layers, artifact)
		previousFull = fullSize
		working = processedWorking
	}

	finalFull := previousFull
	result.FinalFrame = finalFull

	finalMask, ferr := sac.ComputeMask(original, finalFull)
	finalArtifact := LayerArtifact{Record: LayerRecord{
		Stage:       "final-comparison",
		Description: "Full-pipeline comparison against the original",
		Path:        "final-comparison",
	}}
	if ferr == nil {
		finalArtifact.MaskSAC = finalMask.SACBytes
		finalArtifact.Record.MaskPath = "final-comparison/mask.sac"
		finalArtifact.Record.DiffStats = &finalMask.DiffStats
		finalArtifact.Record.HasSACMask = true
	} else {
		finalArtifact.Record.Error = ferr.Error()
	}
	result.Layers = append(result.Layers, finalArtifact)

	layerRecords := make([]LayerRecord, len(result.Layers))
	for i, l := range result.Layers {
		layerRecords[i] = l.Record
	}
	result.Projects = BuildProjectStatus(layerRecords, nil)

	return result, nil
}

func stageDirName(index int, key string) string {
	return padIndex(index) + "-" + key
}

func padIndex(i int) string {
	if i < 10 {
		return "0" + itoa(i)
	}
	return itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func maxDim(w, h int) int {
	if w > h {
		return w
	}
	return h
}

func scaledDims(w, h, maxDim int) (int, int) {
	if w >= h {
		scale := float64(maxDim) / float64(w)
		return maxDim, int(float64(h)*scale + 0.5)
	}
	scale := float64(maxDim) / float64(h)
	return int(float64(w)*scale + 0.5), maxDim
}

// resample rescales a frame using a Catmull-Rom kernel, x/image/draw's
// closest analogue to the LANCZOS-down/BICUBIC-up resampling the original
// implementation uses for the working-resolution round trip.
func resample(src *transform.Frame, width, height int) *transform.Frame {
	srcImg := src.ToImage()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), srcImg, srcImg.Bounds(), draw.Over, nil)
	return transform.FromImage(dst)
}

func encodePNG(f *transform.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.ToImage()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
