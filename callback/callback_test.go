package callback_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artorize/gateway/callback"
)

func TestSendCompletion_SuccessOnFirstTry(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := callback.New(2*time.Second, 3, 10*time.Millisecond, nil, nil)
	ok := client.SendCompletion(context.Background(), srv.URL, "tok123", map[string]any{"job_id": "abc"})
	if !ok {
		t.Fatal("expected SendCompletion to succeed")
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer tok123")
	}
	if gotBody["job_id"] != "abc" {
		t.Errorf("body job_id = %v, want abc", gotBody["job_id"])
	}
}

func TestSendCompletion_RetriesUntilSuccess(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := callback.New(2*time.Second, 5, time.Millisecond, nil, nil)
	ok := client.SendCompletion(context.Background(), srv.URL, "", map[string]any{"a": 1})
	if !ok {
		t.Fatal("expected eventual success")
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestSendCompletion_ExhaustsRetriesAndDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var deadLettered any
	client := callback.New(2*time.Second, 2, time.Millisecond, nil, func(payload any) {
		deadLettered = payload
	})
	ok := client.SendCompletion(context.Background(), srv.URL, "", map[string]any{"job_id": "xyz"})
	if ok {
		t.Fatal("expected SendCompletion to fail after exhausting retries")
	}
	if deadLettered == nil {
		t.Error("expected the failed completion payload to be dead-lettered")
	}
}

func TestSendProgress_DoesNotDeadLetterOnExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	called := false
	client := callback.New(2*time.Second, 2, time.Millisecond, nil, func(payload any) {
		called = true
	})
	ok := client.SendProgress(context.Background(), srv.URL, "", map[string]any{"percent": 50})
	if ok {
		t.Fatal("expected SendProgress to fail")
	}
	if called {
		t.Error("expected a progress callback to not be dead-lettered on exhaustion")
	}
}

func TestSendCompletion_Non200StrictFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted) // 202, not 200
	}))
	defer srv.Close()

	client := callback.New(2*time.Second, 1, time.Millisecond, nil, nil)
	ok := client.SendCompletion(context.Background(), srv.URL, "", map[string]any{})
	if ok {
		t.Error("expected only HTTP 200 to count as success")
	}
}
