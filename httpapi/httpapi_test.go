package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artorize/gateway/httpapi"
	"github.com/artorize/gateway/jobmanager"
)

type fakeProcessor struct {
	fail bool
}

func (f *fakeProcessor) Process(ctx context.Context, job *jobmanager.Job) (*jobmanager.Result, error) {
	if f.fail {
		return nil, errors.New("boom")
	}
	return &jobmanager.Result{OutputDir: "/tmp/" + job.ID}, nil
}

type fakeCompleter struct{}

func (fakeCompleter) BuildCompletion(ctx context.Context, job *jobmanager.Job, result *jobmanager.Result, processErr error) any {
	return map[string]any{"job_id": job.ID}
}

func newTestServer(t *testing.T) (*httpapi.Server, *jobmanager.Manager, string) {
	t.Helper()
	baseDir := t.TempDir()
	outputDir := t.TempDir()
	manager := jobmanager.New(jobmanager.Config{WorkerConcurrency: 1, QueueSize: 8}, &fakeProcessor{}, fakeCompleter{}, nil, nil)
	manager.Start()
	t.Cleanup(manager.Stop)
	server := httpapi.NewServer(manager, outputDir, baseDir, nil, nil)
	return server, manager, baseDir
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func multipartUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", "input.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	w.Close()
	return buf, w.FormDataContentType()
}

func TestHandleSubmitJob_Multipart(t *testing.T) {
	server, _, _ := newTestServer(t)
	body, contentType := multipartUpload(t, map[string]string{"include_protection": "false"})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["id"] == "" || resp["id"] == nil {
		t.Error("expected a non-empty job id")
	}
}

func TestHandleSubmitJob_JSON_RequiresExactlyOneSource(t *testing.T) {
	server, _, _ := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]any{"image_url": "http://x", "local_path": "/tmp/y"})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJobLifecycle_StatusResultDelete(t *testing.T) {
	server, manager, _ := newTestServer(t)
	body, contentType := multipartUpload(t, map[string]string{"include_protection": "false"})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	id := resp["id"].(string)

	deadline := time.Now().Add(2 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		job, err := manager.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		status = string(job.Snapshot().Status)
		if status == string(jobmanager.StatusDone) || status == string(jobmanager.StatusError) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status != string(jobmanager.StatusDone) {
		t.Fatalf("job status = %q, want done", status)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
	statusRec := httptest.NewRecorder()
	server.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status endpoint: got %d, want 200", statusRec.Code)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+id, nil)
	delRec := httptest.NewRecorder()
	server.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete: got %d, want 200", delRec.Code)
	}
	var delBody map[string]string
	if err := json.Unmarshal(delRec.Body.Bytes(), &delBody); err != nil {
		t.Fatalf("delete response not JSON: %v", err)
	}
	if delBody["status"] != "deleted" {
		t.Fatalf("delete status = %q, want %q", delBody["status"], "deleted")
	}

	getAfterDelete := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
	getAfterDeleteRec := httptest.NewRecorder()
	server.ServeHTTP(getAfterDeleteRec, getAfterDelete)
	if getAfterDeleteRec.Code != http.StatusNotFound {
		t.Fatalf("status after delete: got %d, want 404", getAfterDeleteRec.Code)
	}
}

func TestHandleJobStatus_NotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSACEncode_MultipartHiLo(t *testing.T) {
	server, _, _ := newTestServer(t)

	hiBuf, loBuf := &bytes.Buffer{}, &bytes.Buffer{}
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 10)
	}
	png.Encode(hiBuf, gray)
	png.Encode(loBuf, gray)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	hiPart, _ := w.CreateFormFile("mask_hi", "hi.png")
	hiPart.Write(hiBuf.Bytes())
	loPart, _ := w.CreateFormFile("mask_lo", "lo.png")
	loPart.Write(loBuf.Bytes())
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/sac/encode", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/octet-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-SAC-Width") == "" {
		t.Error("expected X-SAC-Width header to be set")
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a non-empty SAC body")
	}
}

func TestHandleSACEncodeJob_NotFound(t *testing.T) {
	server, _, baseDir := newTestServer(t)
	_ = baseDir
	req := httptest.NewRequest(http.MethodGet, "/v1/sac/encode/job/unknown-job", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint_Served(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestExpandHomeAndInputMaterialization_LocalPath(t *testing.T) {
	server, _, baseDir := newTestServer(t)

	srcDir := filepath.Join(baseDir, "src")
	os.MkdirAll(srcDir, 0o755)
	srcPath := filepath.Join(srcDir, "photo.png")
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	f, _ := os.Create(srcPath)
	png.Encode(f, img)
	f.Close()

	reqBody, _ := json.Marshal(map[string]any{"local_path": srcPath})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleExtractHashes_ReturnsHashSuite(t *testing.T) {
	server, _, _ := newTestServer(t)
	body, contentType := multipartUpload(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/extract-hashes", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Hashes map[string]string `json:"hashes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hashes) == 0 {
		t.Error("expected at least one computed hash")
	}
}

func TestHandleFindSimilar_NoBackendConfiguredReturns503(t *testing.T) {
	server, _, _ := newTestServer(t)
	body, contentType := multipartUpload(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/find-similar", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", rec.Code, rec.Body.String())
	}
}
