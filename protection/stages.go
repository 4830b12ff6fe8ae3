package protection

import (
	"github.com/artorize/gateway/rng"
	"github.com/artorize/gateway/transform"
)

// Stage is one named step in the protection pipeline: a description for
// the layer record plus the function that produces the next frame from
// the current one.
type Stage struct {
	Key         string
	Description string
	Apply       func(src *transform.Frame, source *rng.Source) *transform.Frame
}

// BuildStageSequence returns the ordered stage list for cfg, matching
// protection_pipeline.py's _build_stage_sequence: fawkes, photoguard,
// mist, nightshade, then the configured watermark strategy (mutually
// exclusive), then stegano-embed if enabled. c2pa-manifest is not a stage
// here: runner.Processor applies it after ApplyLayers, signing the last
// layer's encoded image bytes rather than the in-memory frame.
func BuildStageSequence(cfg WorkflowConfig) []Stage {
	var stages []Stage

	if cfg.EnableFawkes {
		stages = append(stages, Stage{
			Key:         "fawkes",
			Description: "Additive Gaussian perturbation resembling Fawkes-style cloaking",
			Apply: func(src *transform.Frame, source *rng.Source) *transform.Frame {
				return transform.Fawkes(src, source)
			},
		})
	}
	if cfg.EnablePhotoGuard {
		stages = append(stages, Stage{
			Key:         "photoguard",
			Description: "Blur/edge blend resembling PhotoGuard-style immunization",
			Apply: func(src *transform.Frame, _ *rng.Source) *transform.Frame {
				return transform.PhotoGuard(src)
			},
		})
	}
	if cfg.EnableMist {
		stages = append(stages, Stage{
			Key:         "mist",
			Description: "Saturation/contrast/sharpen sequence resembling Mist-style protection",
			Apply: func(src *transform.Frame, _ *rng.Source) *transform.Frame {
				return transform.Mist(src)
			},
		})
	}
	if cfg.EnableNightshade {
		stages = append(stages, Stage{
			Key:         "nightshade",
			Description: "Horizontal roll blend with noise resembling Nightshade-style poisoning",
			Apply: func(src *transform.Frame, source *rng.Source) *transform.Frame {
				return transform.Nightshade(src, source)
			},
		})
	}

	switch cfg.WatermarkStrategy {
	case WatermarkInvisible:
		text := cfg.WatermarkText
		stages = append(stages, Stage{
			Key:         "invisible-watermark",
			Description: "LSB watermark embedding",
			Apply: func(src *transform.Frame, _ *rng.Source) *transform.Frame {
				return transform.InvisibleWatermark(src, text)
			},
		})
	case WatermarkTreeRing:
		freq, amp := cfg.TreeRingFrequency, cfg.TreeRingAmplitude
		stages = append(stages, Stage{
			Key:         "tree-ring",
			Description: "Radial sinusoidal watermark pattern",
			Apply: func(src *transform.Frame, _ *rng.Source) *transform.Frame {
				return transform.TreeRing(src, freq, amp)
			},
		})
	}

	if cfg.EnableSteganoEmbed {
		message := cfg.SteganoMessage
		stages = append(stages, Stage{
			Key:         "stegano-embed",
			Description: "LSB steganographic payload embedding",
			Apply: func(src *transform.Frame, _ *rng.Source) *transform.Frame {
				return transform.SteganoEmbed(src, message)
			},
		})
	}

	return stages
}
