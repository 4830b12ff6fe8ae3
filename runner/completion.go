package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/artorize/gateway/backendupload"
	"github.com/artorize/gateway/jobmanager"
	"github.com/artorize/gateway/protection"
	storageadapter "github.com/artorize/gateway/adapters/storage"
)

// Completion implements jobmanager.CompletionPayloadBuilder, matching
// app.py's _send_callback_on_completion: branch on whether the job names
// a backend-upload URL (artwork-backend path) or falls back to the
// legacy object-storage path, and shape the completion payload
// accordingly.
type Completion struct {
	Backend  *backendupload.Client
	Uploader *storageadapter.GatewayUploader
}

// NewCompletion builds a Completion. Either dependency may be nil if the
// corresponding delivery path is never used.
func NewCompletion(backend *backendupload.Client, uploader *storageadapter.GatewayUploader) *Completion {
	return &Completion{Backend: backend, Uploader: uploader}
}

type completionSuccessPayload struct {
	JobID            string               `json:"job_id"`
	Status           string               `json:"status"`
	ProcessingTimeMS int64                `json:"processing_time_ms"`
	BackendArtworkID string               `json:"backend_artwork_id,omitempty"`
	Result           *completionResultView `json:"result,omitempty"`
}

type completionResultView struct {
	ProtectedImageURL string            `json:"protected_image_url"`
	ThumbnailURL      string            `json:"thumbnail_url"`
	SACMaskURL        string            `json:"sac_mask_url,omitempty"`
	Hashes            map[string]string `json:"hashes"`
	Metadata          any               `json:"metadata"`
	Watermark         watermarkView     `json:"watermark"`
}

type watermarkView struct {
	Strategy string  `json:"strategy"`
	Strength float64 `json:"strength"`
}

type completionFailurePayload struct {
	JobID            string       `json:"job_id"`
	Status           string       `json:"status"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
	Error            errorDetail  `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BuildCompletion implements jobmanager.CompletionPayloadBuilder.
func (c *Completion) BuildCompletion(ctx context.Context, job *jobmanager.Job, result *jobmanager.Result, processErr error) any {
	elapsedMS := time.Since(job.SubmittedAt).Milliseconds()

	if processErr != nil {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error: errorDetail{
				Code:    "PROCESSING_FAILED",
				Message: processErr.Error(),
			},
		}
	}

	if job.BackendURL != "" {
		return c.buildBackendPayload(ctx, job, result, elapsedMS)
	}
	return c.buildStoragePayload(ctx, job, result, elapsedMS)
}

func (c *Completion) buildBackendPayload(ctx context.Context, job *jobmanager.Job, result *jobmanager.Result, elapsedMS int64) any {
	if c.Backend == nil || result == nil || result.Summary == nil {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: "BACKEND_UPLOAD_FAILED", Message: "backend upload not configured"},
		}
	}

	original, protectedImg, maskSAC, ok := finalArtifacts(result.Summary)
	if !ok {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: "BACKEND_UPLOAD_FAILED", Message: "final layer artifacts not available"},
		}
	}

	resp, err := c.Backend.UploadArtwork(ctx, backendupload.UploadRequest{
		BackendURL:     job.BackendURL,
		AuthToken:      job.BackendAuthToken,
		OriginalImage:  original,
		ProtectedImage: protectedImg,
		Mask:           maskSAC,
		Analysis:       result.AnalysisRaw,
		Summary:        mustMarshalSummary(result.Summary),
		Title:          job.ArtworkTitle,
		Artist:         job.ArtistName,
		Description:    job.ArtworkDescription,
		Tags:           job.ArtworkTags,
		CreatedAt:      job.ArtworkCreationTime,
	})
	if err != nil {
		code := "BACKEND_UPLOAD_FAILED"
		switch err {
		case backendupload.ErrAuth:
			code = "BACKEND_AUTH_FAILED"
		}
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: code, Message: err.Error()},
		}
	}

	return completionSuccessPayload{
		JobID:            job.ID,
		Status:           "completed",
		ProcessingTimeMS: elapsedMS,
		BackendArtworkID: resp.ID,
	}
}

func (c *Completion) buildStoragePayload(ctx context.Context, job *jobmanager.Job, result *jobmanager.Result, elapsedMS int64) any {
	if c.Uploader == nil || result == nil || result.Summary == nil {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: "STORAGE_UPLOAD_FAILED", Message: "storage uploader not configured"},
		}
	}

	lastLayer := lastImageLayer(result.Summary)
	if lastLayer == nil {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: "STORAGE_UPLOAD_FAILED", Message: "no layer image available"},
		}
	}

	imagePath := filepath.Join(result.OutputDir, "layers", lastLayer.Record.Path, "image.png")
	sacPath := ""
	if final := finalComparisonLayer(result.Summary); final != nil && final.Record.MaskPath != "" {
		sacPath = filepath.Join(result.OutputDir, "layers", "final-comparison", "mask.sac")
		if _, statErr := os.Stat(sacPath); statErr != nil {
			sacPath = ""
		}
	}

	uploadRes, err := c.Uploader.UploadProtectedImage(ctx, imagePath, job.ID, "png", sacPath)
	if err != nil {
		return completionFailurePayload{
			JobID:            job.ID,
			Status:           "failed",
			ProcessingTimeMS: elapsedMS,
			Error:            errorDetail{Code: "STORAGE_UPLOAD_FAILED", Message: err.Error()},
		}
	}

	var hashes map[string]string
	var metadata any
	if len(result.AnalysisRaw) > 0 {
		hashes, metadata = parseAnalysisHashes(result.AnalysisRaw)
	}

	return completionSuccessPayload{
		JobID:            job.ID,
		Status:           "completed",
		ProcessingTimeMS: elapsedMS,
		Result: &completionResultView{
			ProtectedImageURL: uploadRes.ProtectedImageURL,
			ThumbnailURL:      uploadRes.ThumbnailURL,
			SACMaskURL:        uploadRes.SACMaskURL,
			Hashes:            hashes,
			Metadata:          metadata,
			Watermark: watermarkView{
				Strategy: job.WatermarkStrategy,
				Strength: job.WatermarkStrength,
			},
		},
	}
}

// finalComparisonLayer resolves the pipeline's single reversibility mask
// for completion reporting by looking up the "final-comparison" stage
// unconditionally — no multi-tier fallback search over other layers.
func finalComparisonLayer(result *protection.Result) *protection.LayerArtifact {
	for i := range result.Layers {
		if result.Layers[i].Record.Stage == "final-comparison" {
			return &result.Layers[i]
		}
	}
	return nil
}

func lastImageLayer(result *protection.Result) *protection.LayerArtifact {
	for i := len(result.Layers) - 1; i >= 0; i-- {
		if len(result.Layers[i].ImageBytes) > 0 {
			return &result.Layers[i]
		}
	}
	return nil
}

func finalArtifacts(result *protection.Result) (original, protectedImg, maskSAC []byte, ok bool) {
	if len(result.Layers) == 0 {
		return nil, nil, nil, false
	}
	original = result.Layers[0].ImageBytes
	last := lastImageLayer(result)
	if last == nil {
		return nil, nil, nil, false
	}
	protectedImg = last.ImageBytes
	if final := finalComparisonLayer(result); final != nil {
		maskSAC = final.MaskSAC
	}
	return original, protectedImg, maskSAC, len(original) > 0 && len(protectedImg) > 0
}

func mustMarshalSummary(result *protection.Result) []byte {
	layerRecords := make([]protection.LayerRecord, len(result.Layers))
	for i, l := range result.Layers {
		layerRecords[i] = l.Record
	}
	b, _ := json.Marshal(map[string]any{"layers": layerRecords, "projects": result.Projects})
	return b
}

func parseAnalysisHashes(raw []byte) (map[string]string, any) {
	var doc struct {
		Results []struct {
			Hashes   map[string]string `json:"hashes"`
			Metadata any               `json:"metadata"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Results) == 0 {
		return nil, nil
	}
	return doc.Results[0].Hashes, doc.Results[0].Metadata
}
