package backendupload_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artorize/gateway/backendupload"
)

func validRequest(backendURL string) backendupload.UploadRequest {
	return backendupload.UploadRequest{
		BackendURL:     backendURL,
		OriginalImage:  []byte("orig"),
		ProtectedImage: []byte("protected"),
		Mask:           []byte("mask"),
		Analysis:       []byte(`{}`),
		Summary:        []byte(`{}`),
		Title:          "Test",
	}
}

func TestUploadArtwork_MissingFieldsRejected(t *testing.T) {
	client := backendupload.New(time.Second, 1, time.Millisecond)
	_, err := client.UploadArtwork(context.Background(), backendupload.UploadRequest{})
	if err == nil {
		t.Fatal("expected an error for a request missing required fields")
	}
}

func TestUploadArtwork_SuccessOn201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artworks" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"artwork-1"}`))
	}))
	defer srv.Close()

	client := backendupload.New(2*time.Second, 3, time.Millisecond)
	resp, err := client.UploadArtwork(context.Background(), validRequest(srv.URL))
	if err != nil {
		t.Fatalf("UploadArtwork: %v", err)
	}
	if resp.ID != "artwork-1" {
		t.Errorf("ID = %q, want artwork-1", resp.ID)
	}
}

func TestUploadArtwork_401IsTerminal(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := backendupload.New(2*time.Second, 5, time.Millisecond)
	_, err := client.UploadArtwork(context.Background(), validRequest(srv.URL))
	if !errors.Is(err, backendupload.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (401 should not be retried)", attempts)
	}
}

func TestUploadArtwork_429RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"artwork-2"}`))
	}))
	defer srv.Close()

	client := backendupload.New(2*time.Second, 4, time.Millisecond)
	resp, err := client.UploadArtwork(context.Background(), validRequest(srv.URL))
	if err != nil {
		t.Fatalf("UploadArtwork: %v", err)
	}
	if resp.ID != "artwork-2" {
		t.Errorf("ID = %q, want artwork-2", resp.ID)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestUploadArtwork_OtherStatusIsTerminal(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := backendupload.New(2*time.Second, 5, time.Millisecond)
	_, err := client.UploadArtwork(context.Background(), validRequest(srv.URL))
	if err == nil {
		t.Fatal("expected an error for a non-retryable status")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (500 should be terminal per uploadWithRetry)", attempts)
	}
}
