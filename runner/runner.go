// Package runner wires the protection pipeline, hash analysis, and C2PA
// signing into one jobmanager.Processor, matching app.py's _process_job:
// build/recreate the job's output directory, run hash analysis if
// requested, run the protection pipeline (or just copy the original
// through as a single "original" layer if protection is disabled), and
// write summary.json/analysis.json to disk.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/artorize/gateway/c2pa"
	"github.com/artorize/gateway/config"
	"github.com/artorize/gateway/core"
	apperrors "github.com/artorize/gateway/errors"
	"github.com/artorize/gateway/hashproc"
	"github.com/artorize/gateway/jobmanager"
	"github.com/artorize/gateway/protection"
	"github.com/artorize/gateway/sac"
	"github.com/artorize/gateway/transform"
)

// Processor implements jobmanager.Processor against the local filesystem.
type Processor struct {
	OutputRoot     string
	WorkflowConfig protection.WorkflowConfig
	Signer         c2pa.Signer
	HashTypes      []string
	Metrics        core.MetricsCollector // optional

	// AdaptiveCompression controls the post-protection re-encode pass; the
	// zero value leaves the final layer at its default PNG encoding.
	AdaptiveCompression config.AdaptiveConfig
}

// New builds a Processor with the default workflow configuration.
func New(outputRoot string, signer c2pa.Signer) *Processor {
	return &Processor{
		OutputRoot:     outputRoot,
		WorkflowConfig: protection.DefaultWorkflowConfig(),
		Signer:         signer,
	}
}

// Process implements jobmanager.Processor.
func (p *Processor) Process(ctx context.Context, job *jobmanager.Job) (result *jobmanager.Result, err error) {
	started := time.Now()
	defer func() {
		if p.Metrics == nil {
			return
		}
		p.Metrics.RecordProcessingTime("job", time.Since(started))
		if err != nil {
			p.Metrics.RecordError("job", categoryOf(err))
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "runner.Process", ctxErr)
	}

	outputDir := filepath.Join(p.OutputRoot, job.ID)
	if err := os.RemoveAll(outputDir); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
	}
	if err := os.MkdirAll(filepath.Join(outputDir, "layers"), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
	}

	srcBytes, err := os.ReadFile(job.Input.LocalPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "runner.Process", err)
	}
	frame, coreFormat, err := decodeViaRegistry(ctx, srcBytes, p.Metrics)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "runner.Process", err)
	}
	format := string(coreFormat)

	var analysisBytes []byte
	if job.IncludeHashAnalysis {
		result := hashproc.Extract(frame.ToImage(), format, p.HashTypes)
		analysisDoc := map[string]any{
			"results": []any{
				map[string]any{
					"processor": "imagehash",
					"hashes":    result.Hashes,
					"metadata":  result.Metadata,
					"error":     result.Error,
				},
			},
		}
		analysisBytes, err = json.MarshalIndent(analysisDoc, "", "  ")
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, "runner.Process", err)
		}
		if err := os.WriteFile(filepath.Join(outputDir, "analysis.json"), analysisBytes, 0o644); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
		}
	}

	var pipelineResult *protection.Result
	if job.IncludeProtection {
		cfg := p.WorkflowConfig
		if job.WatermarkStrategy != "" {
			cfg.WatermarkStrategy = protection.WatermarkStrategy(job.WatermarkStrategy)
		}
		pipelineResult, err = protection.ApplyLayers(frame, cfg, 0) // 0 resolves to rng.DefaultSeed
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, "runner.Process", err)
		}
		if cfg.EnableC2PAManifest && p.Signer != nil {
			if err := p.applyC2PA(pipelineResult, job, cfg); err != nil {
				// Non-fatal: recorded on the layer, matching the
				// original's try/except around embed_c2pa_manifest.
				pipelineResult.Layers = append(pipelineResult.Layers, protection.LayerArtifact{
					Record: protection.LayerRecord{Stage: "c2pa-manifest", Error: err.Error()},
				})
			}
		}
		if p.AdaptiveCompression.Enabled {
			if err := recompressFinalLayer(ctx, pipelineResult, coreFormat, p.AdaptiveCompression, p.Metrics); err != nil {
				return nil, apperrors.Wrap(apperrors.CategoryEncode, "runner.Process", err)
			}
		}
		if err := persistLayers(outputDir, pipelineResult); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
		}
	} else {
		pipelineResult, err = ensureOriginalLayer(frame, outputDir)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
		}
	}

	summaryBytes, err := buildSummary(job, pipelineResult, analysisBytes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "runner.Process", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "summary.json"), summaryBytes, 0o644); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "runner.Process", err)
	}

	return &jobmanager.Result{
		OutputDir:   outputDir,
		Summary:     pipelineResult,
		AnalysisRaw: analysisBytes,
	}, nil
}

func (p *Processor) applyC2PA(result *protection.Result, job *jobmanager.Job, cfg protection.WorkflowConfig) error {
	if len(result.Layers) == 0 {
		return fmt.Errorf("no layers to sign")
	}
	last := result.Layers[len(result.Layers)-1]
	signResult, err := p.Signer.Sign(last.ImageBytes, c2pa.ManifestConfig{
		ClaimGenerator:   cfg.C2PAManifest.ClaimGenerator,
		PolicyURL:        cfg.C2PAManifest.PolicyURL,
		SigningAlgorithm: cfg.C2PAManifest.SigningAlgorithm,
		LicenseID:        cfg.C2PAManifest.LicenseID,
		LicenseURL:       cfg.C2PAManifest.LicenseURL,
		LicenseText:      cfg.C2PAManifest.LicenseText,
		OfferedBy:        cfg.C2PAManifest.OfferedBy,
	}, job.ID)
	if err != nil {
		return err
	}
	result.Layers = append(result.Layers, protection.LayerArtifact{
		Record: protection.LayerRecord{
			Stage:       "c2pa-manifest",
			Description: "Content provenance manifest signed over the final layer",
			Path:        "c2pa-manifest",
		},
		ImageBytes: signResult.SignedImage,
	})
	return nil
}

func ensureOriginalLayer(frame *transform.Frame, outputDir string) (*protection.Result, error) {
	imgBytes, err := encodePNGBytes(frame)
	if err != nil {
		return nil, err
	}
	layerDir := filepath.Join(outputDir, "layers", "00-original")
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(layerDir, "image.png"), imgBytes, 0o644); err != nil {
		return nil, err
	}
	return &protection.Result{
		FinalFrame:    frame,
		OriginalFrame: frame,
		Layers: []protection.LayerArtifact{{
			Record: protection.LayerRecord{
				Stage:            "original",
				Description:      "Unmodified input image",
				Path:             "00-original",
				ProcessingWidth:  frame.Width,
				ProcessingHeight: frame.Height,
			},
			ImageBytes: imgBytes,
		}},
		Projects: protection.BuildProjectStatus([]protection.LayerRecord{{Stage: "original"}}, nil),
	}, nil
}

func persistLayers(outputDir string, result *protection.Result) error {
	for _, layer := range result.Layers {
		if layer.Record.Path == "" {
			continue
		}
		layerDir := filepath.Join(outputDir, "layers", layer.Record.Path)
		if err := os.MkdirAll(layerDir, 0o755); err != nil {
			return err
		}
		if len(layer.ImageBytes) > 0 {
			if err := os.WriteFile(filepath.Join(layerDir, "image.png"), layer.ImageBytes, 0o644); err != nil {
				return err
			}
		}
		if len(layer.MaskSAC) > 0 {
			if err := os.WriteFile(filepath.Join(layerDir, "mask.sac"), layer.MaskSAC, 0o644); err != nil {
				return err
			}
			metaBytes, err := json.MarshalIndent(struct {
				*sac.DiffStats
				Channels int `json:"channels"`
			}{layer.Record.DiffStats, 4}, "", "  ")
			if err == nil {
				_ = os.WriteFile(filepath.Join(layerDir, "mask_metadata.json"), metaBytes, 0o644)
			}
			if blob, derr := sac.Decode(layer.MaskSAC); derr == nil {
				hi, lo := splitPlanes(blob)
				if hi != nil {
					w, h := int(blob.Header.Width), int(blob.Header.Height)
					if err := writePlanePNG(filepath.Join(layerDir, "mask_hi.png"), hi, w, h); err != nil {
						return err
					}
					if err := writePlanePNG(filepath.Join(layerDir, "mask_lo.png"), lo, w, h); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// splitPlanes derives hi/lo byte planes from a decoded single-array SAC
// mask, for callers that want the legacy two-image representation
// alongside the canonical .sac blob.
func splitPlanes(blob *sac.Blob) (hi, lo []uint8) {
	diff32 := make([]int32, len(blob.A))
	for i, v := range blob.A {
		diff32[i] = int32(v)
	}
	h, l, err := sac.EncodeDifference(diff32)
	if err != nil {
		return nil, nil
	}
	return h, l
}

// writePlanePNG reshapes a flat RGBA-interleaved byte plane (as produced by
// splitPlanes) back into a w x h image and writes it as a PNG, matching the
// mask_hi.png/mask_lo.png artifacts protection_pipeline.py persists
// alongside every stage's mask.sac.
func writePlanePNG(path string, plane []uint8, w, h int) error {
	if w <= 0 || h <= 0 || len(plane) < w*h*4 {
		return nil
	}
	img := &image.RGBA{Pix: plane[:w*h*4], Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func buildSummary(job *jobmanager.Job, result *protection.Result, analysis []byte) ([]byte, error) {
	layerRecords := make([]protection.LayerRecord, len(result.Layers))
	for i, l := range result.Layers {
		layerRecords[i] = l.Record
	}
	doc := map[string]any{
		"image":    job.Input.LocalPath,
		"layers":   layerRecords,
		"projects": result.Projects,
	}
	if len(analysis) > 0 {
		var raw any
		if err := json.Unmarshal(analysis, &raw); err == nil {
			doc["analysis"] = raw
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// categoryOf maps a wrapped apperrors category onto a short label for the
// step_errors_total metric, falling back to "unknown" for anything else.
func categoryOf(err error) string {
	var pe *apperrors.ProcessingError
	if stderrors.As(err, &pe) {
		return string(pe.Category)
	}
	return "unknown"
}

func encodePNGBytes(f *transform.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.ToImage()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
