package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/artorize/gateway/jobmanager"
)

const streamChunkSize = 1 << 20 // 1 MiB, matching spec.md's streamed intake

type jsonSubmitRequest struct {
	ImageURL             string   `json:"image_url"`
	LocalPath            string   `json:"local_path"`
	Processors           []string `json:"processors"`
	IncludeHashAnalysis  bool     `json:"include_hash_analysis"`
	IncludeProtection    bool     `json:"include_protection"`
	EnableTineye         bool     `json:"enable_tineye"`
	CallbackURL          string   `json:"callback_url"`
	CallbackAuthToken    string   `json:"callback_auth_token"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleSubmitJob accepts either a multipart upload (field "file") or a
// JSON body naming an image_url/local_path, matching the two ingest
// forms of POST /v1/jobs in spec.md §4.5.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/") {
		s.submitMultipart(w, r, "")
		return
	}
	s.submitJSON(w, r)
}

// handleProcessArtwork is the same intake as handleSubmitJob but always
// multipart and always callback-bearing, matching POST /v1/process/artwork.
func (s *Server) handleProcessArtwork(w http.ResponseWriter, r *http.Request) {
	s.submitMultipart(w, r, r.FormValue("callback_url"))
}

func (s *Server) submitJSON(w http.ResponseWriter, r *http.Request) {
	var req jsonSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if (req.ImageURL == "") == (req.LocalPath == "") {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "exactly one of image_url or local_path must be set")
		return
	}

	job := s.Manager.NewJob(jobmanager.Input{})
	job.IncludeHashAnalysis = req.IncludeHashAnalysis
	job.IncludeProtection = req.IncludeProtection
	job.Processors = req.Processors
	job.CallbackURL = req.CallbackURL
	job.CallbackAuthToken = req.CallbackAuthToken

	localPath, format, err := s.materializeInput(job.ID, req.ImageURL, req.LocalPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INTAKE_FAILED", err.Error())
		return
	}
	job.Input = jobmanager.Input{LocalPath: localPath, ImageURL: req.ImageURL, Format: format}

	s.enqueueAndRespond(w, job)
}

func (s *Server) submitMultipart(w http.ResponseWriter, r *http.Request, callbackURL string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "missing required file field")
		return
	}
	defer file.Close()

	job := s.Manager.NewJob(jobmanager.Input{})
	job.IncludeHashAnalysis = formBool(r, "include_hash_analysis", true)
	job.IncludeProtection = formBool(r, "include_protection", true)
	if v := r.FormValue("processors"); v != "" {
		job.Processors = strings.Split(v, ",")
	}
	if callbackURL != "" {
		job.CallbackURL = callbackURL
	} else {
		job.CallbackURL = r.FormValue("callback_url")
	}
	job.CallbackAuthToken = r.FormValue("callback_auth_token")
	job.ArtistName = r.FormValue("artist")
	job.ArtworkTitle = r.FormValue("title")
	job.ArtworkDescription = r.FormValue("description")
	job.WatermarkStrategy = r.FormValue("watermark_strategy")

	if meta := r.FormValue("metadata"); meta != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(meta), &m); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "malformed metadata JSON")
			return
		}
	}

	ext := filepath.Ext(header.Filename)
	inputDir := filepath.Join(s.BaseDir, job.ID, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "INTAKE_FAILED", err.Error())
		return
	}
	destPath := filepath.Join(inputDir, job.ID+ext)
	if err := streamToFile(file, destPath); err != nil {
		writeError(w, http.StatusInternalServerError, "INTAKE_FAILED", err.Error())
		return
	}
	job.Input = jobmanager.Input{LocalPath: destPath, Format: strings.TrimPrefix(ext, ".")}

	s.enqueueAndRespond(w, job)
}

func (s *Server) enqueueAndRespond(w http.ResponseWriter, job *jobmanager.Job) {
	if err := s.Manager.Submit(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: job.ID, Status: string(job.Status)})
}

func formBool(r *http.Request, key string, fallback bool) bool {
	v := r.FormValue(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// streamToFile copies src into a new file at path in streamChunkSize
// chunks, matching the "streaming in 1 MiB chunks" intake requirement.
func streamToFile(src io.Reader, path string) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// materializeInput resolves either a remote image_url (downloaded with a
// bounded timeout, following redirects) or a local_path (expanded and
// copied), matching app.py's intake resolution.
func (s *Server) materializeInput(jobID, imageURL, localPath string) (path, format string, err error) {
	inputDir := filepath.Join(s.BaseDir, jobID, "input")
	if mkErr := os.MkdirAll(inputDir, 0o755); mkErr != nil {
		return "", "", mkErr
	}

	if imageURL != "" {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, getErr := client.Get(imageURL)
		if getErr != nil {
			return "", "", fmt.Errorf("download failed: %w", getErr)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", "", fmt.Errorf("download failed: status %d", resp.StatusCode)
		}
		ext := filepath.Ext(imageURL)
		if ext == "" {
			ext = ".bin"
		}
		dest := filepath.Join(inputDir, jobID+ext)
		if err := streamToFile(resp.Body, dest); err != nil {
			return "", "", err
		}
		return dest, strings.TrimPrefix(ext, "."), nil
	}

	expanded := expandHome(localPath)
	info, statErr := os.Stat(expanded)
	if statErr != nil {
		return "", "", fmt.Errorf("local path not found: %w", statErr)
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("local path is not a regular file: %s", expanded)
	}
	src, openErr := os.Open(expanded)
	if openErr != nil {
		return "", "", openErr
	}
	defer src.Close()
	ext := filepath.Ext(expanded)
	dest := filepath.Join(inputDir, jobID+ext)
	if err := streamToFile(src, dest); err != nil {
		return "", "", err
	}
	return dest, strings.TrimPrefix(ext, "."), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// handleJobStatus returns a job's current record, 404 if missing,
// matching the "Get status" operation.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, snap)
}

// handleJobResult returns the pipeline summary, 409 if the job hasn't
// finished, matching the "Get result" operation.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
		return
	}
	snap := job.Snapshot()
	if snap.Status != jobmanager.StatusDone {
		writeError(w, http.StatusConflict, "JOB_NOT_DONE", "job has not finished processing")
		return
	}
	writeJSON(w, http.StatusOK, snap.Result.Summary)
}

// handleJobLayer returns one layer's rendered image bytes by stage key,
// 404 if the layer is missing, 409 if the job isn't done.
func (s *Server) handleJobLayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, stage := vars["id"], vars["stage"]
	job, err := s.Manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
		return
	}
	snap := job.Snapshot()
	if snap.Status != jobmanager.StatusDone {
		writeError(w, http.StatusConflict, "JOB_NOT_DONE", "job has not finished processing")
		return
	}
	for _, layer := range snap.Result.Summary.Layers {
		if layer.Record.Stage == stage {
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			_, _ = w.Write(layer.ImageBytes)
			return
		}
	}
	writeError(w, http.StatusNotFound, "LAYER_NOT_FOUND", fmt.Sprintf("no layer named %q", stage))
}

// handleJobDelete removes the in-memory record and best-effort deletes
// its input/output directories.
func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Manager.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
		return
	}
	_ = os.RemoveAll(filepath.Join(s.BaseDir, id))
	_ = os.RemoveAll(filepath.Join(s.OutputRoot, id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
