// Package backendupload delivers the final protected artwork, its
// reversibility mask, and its analysis/summary JSON to an external
// artwork backend, matching backend_upload.py's BackendUploadClient:
// exponential backoff on timeouts and 429s, 401 treated as terminal, all
// multipart file handles closed regardless of outcome.
package backendupload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel classification errors, matching BackendAuthError/
// BackendRateLimitError/BackendTimeoutError/BackendUploadError.
var (
	ErrAuth      = errors.New("backend authentication failed")
	ErrRateLimit = errors.New("backend rate limit exceeded")
	ErrTimeout   = errors.New("backend upload timed out")
	ErrUpload    = errors.New("backend upload failed")
)

// Metadata is the JSON sidecar describing an uploaded artwork, matching
// the `extra` field upload_artwork assembles.
type Metadata struct {
	Hashes            map[string]string `json:"hashes,omitempty"`
	WatermarkStrategy string            `json:"watermark_strategy,omitempty"`
	WatermarkStrength float64           `json:"watermark_strength,omitempty"`
	ProcessingTimeMs  int64             `json:"processing_time_ms,omitempty"`
	ProcessorsUsed    []string          `json:"processors_used,omitempty"`
}

// UploadRequest bundles everything one artwork upload call needs.
type UploadRequest struct {
	BackendURL         string
	AuthToken          string
	OriginalImage      []byte
	ProtectedImage     []byte
	Mask               []byte
	Analysis           []byte // JSON
	Summary            []byte // JSON
	Title              string
	Artist             string
	Description        string
	Tags               []string
	CreatedAt          string
	Metadata           Metadata
}

// UploadResponse is the backend's JSON response to a successful upload.
type UploadResponse struct {
	ID string `json:"id"`
}

// Client performs artwork uploads with retry/backoff.
type Client struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New builds a Client.
func New(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// UploadArtwork validates that every required field is present, then
// uploads with retry, matching upload_artwork + _upload_with_retry.
func (c *Client) UploadArtwork(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	missing := validateRequired(req)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %v", ErrUpload, missing)
	}

	body, contentType, err := buildMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return c.uploadWithRetry(ctx, req.BackendURL, req.AuthToken, body, contentType)
}

func validateRequired(req UploadRequest) []string {
	var missing []string
	if len(req.OriginalImage) == 0 {
		missing = append(missing, "original_image_path")
	}
	if len(req.ProtectedImage) == 0 {
		missing = append(missing, "protected_image_path")
	}
	if len(req.Mask) == 0 {
		missing = append(missing, "mask_path")
	}
	if len(req.Analysis) == 0 {
		missing = append(missing, "analysis")
	}
	if len(req.Summary) == 0 {
		missing = append(missing, "summary")
	}
	return missing
}

func buildMultipart(req UploadRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	writeField := func(name, value string) error {
		if value == "" {
			return nil
		}
		return w.WriteField(name, value)
	}
	if err := writeField("title", req.Title); err != nil {
		return nil, "", err
	}
	if err := writeField("artist", req.Artist); err != nil {
		return nil, "", err
	}
	if err := writeField("description", req.Description); err != nil {
		return nil, "", err
	}
	if err := writeField("createdAt", req.CreatedAt); err != nil {
		return nil, "", err
	}
	if len(req.Tags) > 0 {
		joined := ""
		for i, t := range req.Tags {
			if i > 0 {
				joined += ","
			}
			joined += t
		}
		if err := writeField("tags", joined); err != nil {
			return nil, "", err
		}
	}

	if hasExtra(req.Metadata) {
		extraBytes, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, "", err
		}
		if err := writeField("extra", string(extraBytes)); err != nil {
			return nil, "", err
		}
	}

	if err := writeFilePart(w, "original", "original.jpg", "image/jpeg", req.OriginalImage); err != nil {
		return nil, "", err
	}
	if err := writeFilePart(w, "protected", "protected.jpg", "image/jpeg", req.ProtectedImage); err != nil {
		return nil, "", err
	}
	if err := writeFilePart(w, "mask", "mask.sac", "application/octet-stream", req.Mask); err != nil {
		return nil, "", err
	}
	if err := writeFilePart(w, "analysis", "analysis.json", "application/json", req.Analysis); err != nil {
		return nil, "", err
	}
	if err := writeFilePart(w, "summary", "summary.json", "application/json", req.Summary); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func hasExtra(m Metadata) bool {
	return len(m.Hashes) > 0 || m.WatermarkStrategy != "" || m.ProcessingTimeMs > 0 || len(m.ProcessorsUsed) > 0
}

func writeFilePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	part, err := w.CreatePart(mimeHeader(field, filename, contentType))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, bytes.NewReader(data))
	return err
}

func mimeHeader(field, filename, contentType string) (h map[string][]string) {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename)},
		"Content-Type":        {contentType},
	}
}

func (c *Client) uploadWithRetry(ctx context.Context, backendURL, authToken string, body *bytes.Buffer, contentType string) (*UploadResponse, error) {
	bodyBytes := body.Bytes()

	var result *UploadResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL+"/artworks", bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUpload, err))
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUpload, err))
			}
			return fmt.Errorf("%w: %v", ErrTimeout, err) // transport-level failure, retry
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated:
			decoded := &UploadResponse{}
			if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: invalid response body: %v", ErrUpload, err))
			}
			result = decoded
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(ErrAuth)
		case resp.StatusCode == http.StatusTooManyRequests:
			return ErrRateLimit // retried with backoff
		default:
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode))
		}
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries-1))
	if c.retryDelay > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.retryDelay
		b = backoff.WithMaxRetries(eb, uint64(c.maxRetries-1))
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
