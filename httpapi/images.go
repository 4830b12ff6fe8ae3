package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/artorize/gateway/adapters/decoder"
	"github.com/artorize/gateway/core"
	"github.com/artorize/gateway/hashproc"
)

// imageCodecRegistry decodes the multipart uploads these two standalone
// image endpoints accept, the same adapters/decoder set runner/ingest.go
// registers for job intake, kept separate here since httpapi has no
// dependency on the runner package's job-processing internals.
var imageCodecRegistry = func() core.Registry {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	return reg
}()

// sniffImageFormat inspects the first bytes of an upload, matching
// runner/ingest.go's sniffFormat.
func sniffImageFormat(data []byte) core.Format {
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

func readUploadedImage(r *http.Request) ([]byte, core.Format, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, core.FormatUnknown, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, core.FormatUnknown, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, core.FormatUnknown, err
	}
	return data, sniffImageFormat(data), nil
}

// handleExtractHashes computes perceptual hashes over a standalone
// uploaded image, matching spec.md §6's POST /v1/images/extract-hashes:
// "delegated" in the sense that this route's logic is the same
// hashproc.Extract the job pipeline runs, just invoked synchronously
// here instead of as part of a queued job.
func (s *Server) handleExtractHashes(w http.ResponseWriter, r *http.Request) {
	data, format, err := readUploadedImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	dec, ok := imageCodecRegistry.DecoderFor(format)
	if !ok {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "could not determine image format")
		return
	}
	decoded, err := dec.Decode(r.Context(), bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, "DECODE_FAILED", err.Error())
		return
	}
	img, ok := decoded.Image.(image.Image)
	if !ok {
		writeError(w, http.StatusInternalServerError, "DECODE_FAILED", "decoder returned an unexpected image type")
		return
	}

	var hashTypes []string
	if v := r.FormValue("hash_types"); v != "" {
		hashTypes = strings.Split(v, ",")
	}
	result := hashproc.Extract(img, string(format), hashTypes)
	writeJSON(w, http.StatusOK, result)
}

// similarityMatch mirrors one entry of the backend's similarity search
// response.
type similarityMatch struct {
	ArtworkID  string  `json:"artwork_id"`
	Similarity float64 `json:"similarity"`
}

type findSimilarResponse struct {
	Matches []similarityMatch `json:"matches"`
}

// handleFindSimilar delegates similarity search to the external artwork
// backend, matching spec.md §6's POST /v1/images/find-similar
// ("similarity search (delegated to backend)"): the gateway itself holds
// no index, it forwards the uploaded image and relays the backend's
// response. Returns 503 when no backend is configured, matching
// spec.md §6's "503 when a required downstream is unavailable".
func (s *Server) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	if s.SimilarityBackendURL == "" {
		writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "similarity backend is not configured")
		return
	}
	data, format, err := readUploadedImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if format == core.FormatUnknown {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "could not determine image format")
		return
	}

	resp, err := s.forwardFindSimilar(r.Context(), data)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// forwardFindSimilar posts the image to SimilarityBackendURL with a
// fixed number of exponential-backoff retries, matching
// backendupload.Client's retry shape for other backend-facing calls.
func (s *Server) forwardFindSimilar(ctx context.Context, image []byte) (*findSimilarResponse, error) {
	client := s.similarityHTTPClient()

	var result findSimilarResponse
	operation := func() error {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("file", "image")
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := part.Write(image); err != nil {
			return backoff.Permanent(err)
		}
		if err := mw.Close(); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.SimilarityBackendURL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&result)
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("similarity backend rate limited: %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("similarity backend returned status %d", resp.StatusCode))
		}
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Server) similarityHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
