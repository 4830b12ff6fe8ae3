package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/artorize/gateway/sac"
)

// handleSACEncode accepts a multipart hi/lo mask image pair and returns
// SAC v1 binary, matching sac_routes.py's POST /v1/sac/encode.
func (s *Server) handleSACEncode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	hiFile, _, err := r.FormFile("mask_hi")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "missing mask_hi")
		return
	}
	defer hiFile.Close()
	loFile, _, err := r.FormFile("mask_lo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "missing mask_lo")
		return
	}
	defer loFile.Close()

	hiBytes, err := io.ReadAll(hiFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	loBytes, err := io.ReadAll(loFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	encoded, width, height, lengthA, lengthB, err := encodeHiLoImages(hiBytes, loBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ENCODE_FAILED", fmt.Sprintf("encoding failed: %v", err))
		return
	}
	writeBinarySAC(w, encoded, width, height, lengthA, lengthB, "")
}

// handleSACEncodeNPZ accepts a JSON container (the Go-native analogue of
// a .npz file) with base64 "hi"/"lo" byte arrays, matching
// sac_routes.py's POST /v1/sac/encode/npz.
func (s *Server) handleSACEncodeNPZ(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Hi     []byte `json:"hi"`
		Lo     []byte `json:"lo"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if len(payload.Hi) == 0 || len(payload.Lo) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "payload must contain 'hi' and 'lo' arrays")
		return
	}
	diff := sac.DecodeDifference(payload.Hi, payload.Lo)
	blob := sac.EncodeSingle(diff, payload.Width, payload.Height)
	writeBinarySAC(w, blob, payload.Width, payload.Height, len(diff), len(diff), "")
}

type batchSACRequest struct {
	JobIDs    []string `json:"job_ids"`
	OutputDir string   `json:"output_dir"`
}

type batchSACResult struct {
	SACPath   string `json:"sac_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"size_bytes"`
}

type batchSACResponse struct {
	EncodedCount int                       `json:"encoded_count"`
	FailedCount  int                       `json:"failed_count"`
	TotalBytes   int                       `json:"total_bytes"`
	Results      map[string]batchSACResult `json:"results"`
}

// handleSACEncodeBatch scans each named job's layer directories for
// mask_hi/mask_lo pairs, encodes every one it finds, and writes the .sac
// file alongside, matching sac_routes.py's POST /v1/sac/encode/batch.
func (s *Server) handleSACEncodeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchSACRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	outputParent := s.OutputRoot
	if req.OutputDir != "" {
		outputParent = req.OutputDir
	}

	results := map[string]batchSACResult{}
	failed := 0
	totalBytes := 0

	for _, jobID := range req.JobIDs {
		hiPath, loPath, found := findMaskPlanes(filepath.Join(outputParent, jobID))
		if !found {
			failed++
			continue
		}
		hiBytes, err1 := os.ReadFile(hiPath)
		loBytes, err2 := os.ReadFile(loPath)
		if err1 != nil || err2 != nil {
			failed++
			continue
		}
		encoded, width, height, _, _, err := encodeHiLoImages(hiBytes, loBytes)
		if err != nil {
			failed++
			continue
		}
		sacPath := strings.TrimSuffix(hiPath, "mask_hi.png") + "mask.sac"
		if err := os.WriteFile(sacPath, encoded, 0o644); err != nil {
			failed++
			continue
		}
		results[jobID] = batchSACResult{
			SACPath:   sacPath,
			Width:     width,
			Height:    height,
			SizeBytes: len(encoded),
		}
		totalBytes += len(encoded)
	}

	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "NO_MASKS_FOUND", "no mask pairs found in specified jobs")
		return
	}

	writeJSON(w, http.StatusOK, batchSACResponse{
		EncodedCount: len(results),
		FailedCount:  failed,
		TotalBytes:   totalBytes,
		Results:      results,
	})
}

// handleSACEncodeJob looks up the first mask_hi/mask_lo pair in a job's
// output directory and returns its SAC encoding, matching
// sac_routes.py's GET /v1/sac/encode/job/{job_id}.
func (s *Server) handleSACEncodeJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	jobDir := filepath.Join(s.OutputRoot, jobID)
	if _, err := os.Stat(jobDir); err != nil {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	hiPath, loPath, found := findMaskPlanes(jobDir)
	if !found {
		writeError(w, http.StatusNotFound, "NO_MASKS_FOUND", "no mask files found for job")
		return
	}
	hiBytes, err := os.ReadFile(hiPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_FAILED", err.Error())
		return
	}
	loBytes, err := os.ReadFile(loPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_FAILED", err.Error())
		return
	}
	encoded, width, height, lengthA, lengthB, err := encodeHiLoImages(hiBytes, loBytes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_FAILED", fmt.Sprintf("encoding failed: %v", err))
		return
	}
	writeBinarySAC(w, encoded, width, height, lengthA, lengthB, jobID+".sac")
}

// findMaskPlanes walks dir looking for a "mask_hi.png"/"mask_lo.png" pair,
// matching the per-stage layer directory layout persistLayers writes
// (runner.go's writePlanePNG), the Go analogue of sac_routes.py's
// job_dir.rglob("*_mask_hi.png").
func findMaskPlanes(dir string) (hiPath, loPath string, found bool) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || found {
			return nil
		}
		if strings.HasSuffix(path, "mask_hi.png") {
			candidateLo := strings.TrimSuffix(path, "mask_hi.png") + "mask_lo.png"
			if _, statErr := os.Stat(candidateLo); statErr == nil {
				hiPath, loPath, found = path, candidateLo, true
			}
		}
		return nil
	})
	return hiPath, loPath, found
}

// encodeHiLoImages decodes two grayscale PNG byte planes and re-derives
// the int16 diff array they encode, then produces a canonical
// single-array SAC blob (see sac.ComputeMask's Open Question (c) note).
func encodeHiLoImages(hiBytes, loBytes []byte) (encoded []byte, width, height, lengthA, lengthB int, err error) {
	hiImg, err := decodePNGGray(hiBytes)
	if err != nil {
		return nil, 0, 0, 0, 0, err
	}
	loImg, err := decodePNGGray(loBytes)
	if err != nil {
		return nil, 0, 0, 0, 0, err
	}
	if len(hiImg.pix) != len(loImg.pix) {
		return nil, 0, 0, 0, 0, fmt.Errorf("mask_hi/mask_lo size mismatch")
	}
	diff16 := sac.DecodeDifference(hiImg.pix, loImg.pix)

	encoded = sac.EncodeSingle(diff16, hiImg.width, hiImg.height)
	return encoded, hiImg.width, hiImg.height, len(diff16), 0, nil
}

type grayPlane struct {
	pix           []uint8
	width, height int
}

func decodePNGGray(data []byte) (grayPlane, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return grayPlane{}, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gr, _, _, _ := img.At(x, y).RGBA()
			pix[i] = uint8(gr >> 8)
			i++
		}
	}
	return grayPlane{pix: pix, width: w, height: h}, nil
}

func writeBinarySAC(w http.ResponseWriter, sacBytes []byte, width, height, lengthA, lengthB int, attachmentName string) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(sacBytes)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-SAC-Width", strconv.Itoa(width))
	w.Header().Set("X-SAC-Height", strconv.Itoa(height))
	w.Header().Set("X-SAC-Length-A", strconv.Itoa(lengthA))
	w.Header().Set("X-SAC-Length-B", strconv.Itoa(lengthB))
	if attachmentName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, attachmentName))
	}
	_, _ = w.Write(sacBytes)
}
