package jobmanager_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/artorize/gateway/callback"
	"github.com/artorize/gateway/jobmanager"
)

type fakeProcessor struct {
	delay   time.Duration
	failOn  func(*jobmanager.Job) error
	calls   int32
	mu      sync.Mutex
}

func (f *fakeProcessor) Process(ctx context.Context, job *jobmanager.Job) (*jobmanager.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failOn != nil {
		if err := f.failOn(job); err != nil {
			return nil, err
		}
	}
	return &jobmanager.Result{OutputDir: "/tmp/" + job.ID}, nil
}

type fakeCompleter struct {
	built []string
	mu    sync.Mutex
}

func (f *fakeCompleter) BuildCompletion(ctx context.Context, job *jobmanager.Job, result *jobmanager.Result, processErr error) any {
	f.mu.Lock()
	f.built = append(f.built, job.ID)
	f.mu.Unlock()
	return map[string]any{"job_id": job.ID, "ok": processErr == nil}
}

func waitForStatus(t *testing.T, m *jobmanager.Manager, id string, want jobmanager.Status) *jobmanager.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		snap := job.Snapshot()
		if snap.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s in time", id, want)
	return nil
}

func TestManager_SubmitAndProcessSuccess(t *testing.T) {
	proc := &fakeProcessor{}
	completer := &fakeCompleter{}
	m := jobmanager.New(jobmanager.Config{WorkerConcurrency: 2, QueueSize: 8}, proc, completer, nil, nil)
	m.Start()
	defer m.Stop()

	job := m.NewJob(jobmanager.Input{LocalPath: "/tmp/in.png"})
	if err := m.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForStatus(t, m, job.ID, jobmanager.StatusDone)
	snap := done.Snapshot()
	if snap.Result == nil {
		t.Error("expected a result on a done job")
	}
}

func TestManager_ProcessFailureSetsErrorStatus(t *testing.T) {
	proc := &fakeProcessor{failOn: func(j *jobmanager.Job) error { return errors.New("boom") }}
	m := jobmanager.New(jobmanager.Config{WorkerConcurrency: 1, QueueSize: 4}, proc, nil, nil, nil)
	m.Start()
	defer m.Stop()

	job := m.NewJob(jobmanager.Input{LocalPath: "/tmp/in.png"})
	if err := m.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, m, job.ID, jobmanager.StatusError)
	snap := failed.Snapshot()
	if snap.Error == "" {
		t.Error("expected an error message on a failed job")
	}
}

func TestManager_SubmitFullQueueReturnsError(t *testing.T) {
	proc := &fakeProcessor{delay: 200 * time.Millisecond}
	m := jobmanager.New(jobmanager.Config{WorkerConcurrency: 1, QueueSize: 1}, proc, nil, nil, nil)
	m.Start()
	defer m.Stop()

	j1 := m.NewJob(jobmanager.Input{LocalPath: "/tmp/a.png"})
	j2 := m.NewJob(jobmanager.Input{LocalPath: "/tmp/b.png"})
	j3 := m.NewJob(jobmanager.Input{LocalPath: "/tmp/c.png"})

	if err := m.Submit(j1); err != nil {
		t.Fatalf("Submit j1: %v", err)
	}
	if err := m.Submit(j2); err != nil {
		t.Fatalf("Submit j2: %v", err)
	}
	if err := m.Submit(j3); err == nil {
		t.Error("expected queue-full error for third submission")
	}
}

func TestManager_GetNotFound(t *testing.T) {
	m := jobmanager.New(jobmanager.Config{}, &fakeProcessor{}, nil, nil, nil)
	if _, err := m.Get("missing"); err == nil {
		t.Error("expected an error for an unknown job ID")
	}
}

func TestManager_DeleteRemovesJob(t *testing.T) {
	m := jobmanager.New(jobmanager.Config{}, &fakeProcessor{}, nil, nil, nil)
	job := m.NewJob(jobmanager.Input{LocalPath: "/tmp/in.png"})
	if err := m.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(job.ID); err == nil {
		t.Error("expected job to be gone after Delete")
	}
	if err := m.Delete(job.ID); err == nil {
		t.Error("expected Delete to fail on an already-deleted job")
	}
}

func TestManager_SendsProgressAndCompletionCallbacks(t *testing.T) {
	var progressHits, completeHits int32
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if r.URL.Path == "/process-progress" {
			progressHits++
		} else if r.URL.Path == "/process-complete" {
			completeHits++
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	proc := &fakeProcessor{}
	completer := &fakeCompleter{}
	cb := callback.New(2*time.Second, 1, time.Millisecond, nil, nil)
	m := jobmanager.New(jobmanager.Config{WorkerConcurrency: 1, QueueSize: 4}, proc, completer, cb, nil)
	m.Start()
	defer m.Stop()

	job := m.NewJob(jobmanager.Input{LocalPath: "/tmp/in.png"})
	job.CallbackURL = srv.URL + "/process-complete"
	if err := m.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, m, job.ID, jobmanager.StatusDone)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		p, c := progressHits, completeHits
		mu.Unlock()
		if p > 0 && c > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if progressHits == 0 {
		t.Error("expected at least one progress callback")
	}
	if completeHits == 0 {
		t.Error("expected a completion callback")
	}
}

func TestManager_QueueDepthAndWorkerCount(t *testing.T) {
	m := jobmanager.New(jobmanager.Config{WorkerConcurrency: 3, QueueSize: 10}, &fakeProcessor{delay: 100 * time.Millisecond}, nil, nil, nil)
	if m.WorkerCount() != 3 {
		t.Errorf("WorkerCount = %d, want 3", m.WorkerCount())
	}
	m.Start()
	defer m.Stop()

	for i := 0; i < 5; i++ {
		job := m.NewJob(jobmanager.Input{LocalPath: "/tmp/x.png"})
		if err := m.Submit(job); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if m.QueueDepth() < 0 {
		t.Error("QueueDepth should never be negative")
	}
}
