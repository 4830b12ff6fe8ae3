package protection

// WatermarkStrategy selects the single watermarking stage applied after
// nightshade; invisible-watermark and tree-ring are mutually exclusive,
// matching protection_pipeline.py's ProtectionWorkflowConfig.
type WatermarkStrategy string

const (
	WatermarkInvisible WatermarkStrategy = "invisible-watermark"
	WatermarkTreeRing  WatermarkStrategy = "tree-ring"
	WatermarkNone      WatermarkStrategy = ""
)

// C2PAManifestConfig configures the optional manifest-signing stage.
type C2PAManifestConfig struct {
	ClaimGenerator   string
	PolicyURL        string
	LicenseID        string
	LicenseURL       string
	LicenseText      string
	OfferedBy        string
	SigningAlgorithm string
}

// WorkflowConfig mirrors protection_pipeline.py's ProtectionWorkflowConfig:
// which stages run and their parameters.
type WorkflowConfig struct {
	EnableFawkes     bool
	EnablePhotoGuard bool
	EnableMist       bool
	EnableNightshade bool

	WatermarkStrategy WatermarkStrategy
	WatermarkText     string
	TreeRingFrequency float64
	TreeRingAmplitude float64

	EnableSteganoEmbed bool
	SteganoMessage     string

	EnableC2PAManifest bool
	C2PAManifest       C2PAManifestConfig

	EnablePoisonMask  bool
	PoisonMaskFilterID string
	PoisonMaskCSSClass string
}

// DefaultWorkflowConfig returns the stage configuration every job runs
// with unless overridden, matching the original's dataclass defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		EnableFawkes:       true,
		EnablePhotoGuard:   true,
		EnableMist:         true,
		EnableNightshade:   true,
		WatermarkStrategy:  WatermarkInvisible,
		WatermarkText:      "artorize",
		TreeRingFrequency:  9.0,
		TreeRingAmplitude:  18.0,
		EnableSteganoEmbed: false,
		SteganoMessage:     "Protected by artorize",
		EnableC2PAManifest: true,
		C2PAManifest: C2PAManifestConfig{
			ClaimGenerator:   "artorize-gateway/1.0",
			SigningAlgorithm: "PS256",
		},
		EnablePoisonMask:   true,
		PoisonMaskFilterID: "poison-mask",
		PoisonMaskCSSClass: "poisoned-image",
	}
}

// MaxStageDim is the working raster size transform stages run at; frames
// larger than this are downscaled before stage application and the
// result upscaled back, matching protection_pipeline.py's MAX_STAGE_DIM.
const MaxStageDim = 512
