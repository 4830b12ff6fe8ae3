package runner

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/artorize/gateway/adapters/decoder"
	"github.com/artorize/gateway/adapters/encoder"
	"github.com/artorize/gateway/config"
	"github.com/artorize/gateway/core"
	"github.com/artorize/gateway/hooks"
	"github.com/artorize/gateway/pipeline"
	"github.com/artorize/gateway/protection"
	"github.com/artorize/gateway/transform"
)

// stepPipeline wraps a single core.Step in a pipeline.Pipeline so decode
// and encode both run through the teacher's hook/retry machinery; a nil
// collector yields a pipeline with no metrics hook attached.
func stepPipeline(step core.Step, collector core.MetricsCollector) *pipeline.Pipeline {
	pl := pipeline.New().Use(step)
	if collector != nil {
		pl.AddHook(hooks.NewMetricsHook(collector))
	}
	return pl
}

// codecRegistry is the decode/encode registry every Processor shares,
// wired from the same adapters/{decoder,encoder} the original generic
// imageprocessor package registered, now bound directly into the
// protection runner instead of a standalone step-chaining API.
var codecRegistry = func() core.Registry {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(85))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(85))
	return reg
}()

// sniffFormat inspects the first bytes of an upload to pick a
// core.Format, matching input_utils.py's content-sniffing before the
// gateway knows which decoder to route through.
func sniffFormat(data []byte) core.Format {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return core.FormatJPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return core.FormatPNG
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

// decodeViaRegistry runs the shared codecRegistry's DecodeStep over raw
// upload bytes, the same core.Step the teacher's pipeline package chains
// standalone image jobs through, here invoked directly for a single
// image rather than via pipeline.Pipeline.Run.
func decodeViaRegistry(ctx context.Context, data []byte, collector core.MetricsCollector) (*transform.Frame, core.Format, error) {
	format := sniffFormat(data)
	pl := stepPipeline(&pipeline.DecodeStep{Registry: codecRegistry}, collector)
	out, _, err := pl.Run(ctx, &core.ImageData{Data: data, Format: format})
	if err != nil {
		return nil, format, err
	}
	decoded, ok := out.Image.(image.Image)
	if !ok {
		return nil, format, fmt.Errorf("decoder returned unexpected image type %T", out.Image)
	}
	return transform.FromImage(decoded), format, nil
}

// adaptiveEncodeFinal runs EncodeStep, then AdaptiveCompressStep when
// config.AdaptiveCompression.Enabled, on the pipeline's final frame,
// matching image_storage.py's target-size-aware re-encode of the
// protected artifact before upload.
func adaptiveEncodeFinal(ctx context.Context, f *transform.Frame, format core.Format, cfg config.AdaptiveConfig, collector core.MetricsCollector) ([]byte, error) {
	img := &core.ImageData{Image: f.ToImage(), Format: format}

	encodePl := stepPipeline(&pipeline.EncodeStep{Registry: codecRegistry, BaseOptions: core.EncodeOptions{Quality: 85}}, collector)
	encoded, _, err := encodePl.Run(ctx, img)
	if err != nil {
		return nil, err
	}

	if !cfg.Enabled || cfg.TargetSizeBytes <= 0 {
		return encoded.Data, nil
	}

	compressPl := stepPipeline(&pipeline.AdaptiveCompressStep{
		Registry:        codecRegistry,
		TargetSizeBytes: cfg.TargetSizeBytes,
		MinQuality:      cfg.MinQuality,
		MaxQuality:      cfg.MaxQuality,
		StepSize:        cfg.StepSize,
	}, collector)
	out, _, err := compressPl.Run(ctx, img)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// recompressFinalLayer re-encodes the "final-comparison" layer's image
// bytes through adaptiveEncodeFinal, swapping in the target-size-aware
// encoding before the layer is persisted and handed to the uploader.
func recompressFinalLayer(ctx context.Context, result *protection.Result, format core.Format, cfg config.AdaptiveConfig, collector core.MetricsCollector) error {
	for i := range result.Layers {
		if result.Layers[i].Record.Stage != "final-comparison" {
			continue
		}
		encoded, err := adaptiveEncodeFinal(ctx, result.FinalFrame, format, cfg, collector)
		if err != nil {
			return err
		}
		result.Layers[i].ImageBytes = encoded
		return nil
	}
	return nil
}
