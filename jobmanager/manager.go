package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artorize/gateway/callback"
	"github.com/artorize/gateway/core"
	apperrors "github.com/artorize/gateway/errors"
	"github.com/google/uuid"
)

// Processor runs the full protection pipeline for one job and returns its
// persisted result. Manager treats it as an opaque port, the way
// core.Processor treats core.Step — the queue/worker machinery here
// never needs to know what a "protection pipeline" is.
type Processor interface {
	Process(ctx context.Context, job *Job) (*Result, error)
}

// CompletionPayloadBuilder builds the completion callback body for a
// finished (or failed) job, resolving the Open Question (b) mask lookup
// and any backend-upload step. Kept pluggable so jobmanager itself stays
// free of upload/backend concerns.
type CompletionPayloadBuilder interface {
	BuildCompletion(ctx context.Context, job *Job, result *Result, processErr error) any
}

// Config tunes the worker pool and queue.
type Config struct {
	WorkerConcurrency int
	QueueSize         int
	JobTimeout        time.Duration
}

// Manager is the bounded worker pool draining submitted jobs, matching
// app.py's GatewayState + _worker_loop + create_app's lifespan.
type Manager struct {
	cfg       Config
	processor Processor
	completer CompletionPayloadBuilder
	callbacks *callback.Client
	logger    core.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	queue    chan string
	wg       sync.WaitGroup
	once     sync.Once
	shutdown chan struct{}
}

// New builds a Manager. callbacks may be nil in tests that don't care
// about notification delivery.
func New(cfg Config, processor Processor, completer CompletionPayloadBuilder, callbacks *callback.Client, logger core.Logger) *Manager {
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	return &Manager{
		cfg:       cfg,
		processor: processor,
		completer: completer,
		callbacks: callbacks,
		logger:    logger,
		jobs:      make(map[string]*Job),
		queue:     make(chan string, cfg.QueueSize),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the worker pool, idempotent via sync.Once, matching
// core.Processor.Start.
func (m *Manager) Start() {
	m.once.Do(func() {
		for i := 0; i < m.cfg.WorkerConcurrency; i++ {
			m.wg.Add(1)
			go m.worker()
		}
	})
}

// Stop drains in-flight jobs and waits for every worker to exit,
// matching core.Processor.Stop / create_app's lifespan shutdown.
func (m *Manager) Stop() {
	close(m.shutdown)
	m.wg.Wait()
}

// NewJob creates and registers a job record, assigning a UUID, matching
// _create_job_from_multipart / _create_job_from_payload.
func (m *Manager) NewJob(input Input) *Job {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New().String(),
		Input:       input,
		Status:      StatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job
}

// Submit enqueues a job for processing, returning ErrWorkerPoolFull if
// the bounded queue is full (non-blocking), matching core.Processor.Submit.
func (m *Manager) Submit(job *Job) error {
	select {
	case m.queue <- job.ID:
		return nil
	default:
		return apperrors.Wrap(apperrors.CategoryJob, "jobmanager.Submit", apperrors.ErrWorkerPoolFull)
	}
}

// Get returns a job by ID, or ErrJobNotFound.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.Wrap(apperrors.CategoryJob, "jobmanager.Get", apperrors.ErrJobNotFound)
	}
	return job, nil
}

// Delete removes a job's in-memory record. Callers are responsible for
// cleaning up any persisted files, matching app.py's best-effort
// DELETE /v1/jobs/{job_id} handler.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return apperrors.Wrap(apperrors.CategoryJob, "jobmanager.Delete", apperrors.ErrJobNotFound)
	}
	delete(m.jobs, id)
	return nil
}

// QueueDepth reports how many jobs are waiting to be picked up, used by
// the health endpoint.
func (m *Manager) QueueDepth() int { return len(m.queue) }

// WorkerCount reports the configured worker concurrency.
func (m *Manager) WorkerCount() int { return m.cfg.WorkerConcurrency }

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.shutdown:
			return
		case id, ok := <-m.queue:
			if !ok {
				return
			}
			m.processOne(id)
		}
	}
}

// processOne runs one job end to end, sending the three progress
// checkpoints (25% after transition to running, 50% before pipeline
// invocation, 75% after it returns) and the final completion callback,
// matching _worker_loop exactly.
func (m *Manager) processOne(id string) {
	job, err := m.Get(id)
	if err != nil {
		return // job record missing: mark done on the queue and move on
	}

	job.Touch(StatusRunning, "")
	m.sendProgress(job, "Extracting image metadata", 1, 4, 25, map[string]string{"status": "starting"})

	ctx := context.Background()
	if m.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.JobTimeout)
		defer cancel()
	}

	m.sendProgress(job, "Applying protection layers", 2, 4, 50, map[string]string{"status": "processing"})
	result, procErr := m.processor.Process(ctx, job)
	m.sendProgress(job, "Uploading to backend", 3, 4, 75, map[string]string{"status": "uploading"})

	if procErr != nil {
		job.Touch(StatusError, procErr.Error())
		if m.logger != nil {
			m.logger.Error(fmt.Sprintf("job %s failed: %v", job.ID, procErr))
		}
	} else {
		job.mu.Lock()
		job.Result = result
		job.mu.Unlock()
		job.Touch(StatusDone, "")
	}

	if m.completer != nil && m.callbacks != nil && job.CallbackURL != "" {
		payload := m.completer.BuildCompletion(ctx, job, result, procErr)
		m.callbacks.SendCompletion(ctx, job.CallbackURL, job.CallbackAuthToken, payload)
	}
}

func (m *Manager) sendProgress(job *Job, step string, stepNumber, totalSteps, percentage int, details map[string]string) {
	if m.callbacks == nil || job.CallbackURL == "" {
		return
	}
	progressURL := progressURLFrom(job.CallbackURL)
	payload := map[string]any{
		"job_id":      job.ID,
		"current_step": step,
		"step_number": stepNumber,
		"total_steps": totalSteps,
		"percentage":  percentage,
		"details":     details,
	}
	m.callbacks.SendProgress(context.Background(), progressURL, job.CallbackAuthToken, payload)
}

// progressURLFrom derives the progress-notification URL from the
// completion-callback URL, matching app.py's
// callback_url.replace("process-complete", "process-progress").
func progressURLFrom(callbackURL string) string {
	const from, to = "process-complete", "process-progress"
	out := make([]byte, 0, len(callbackURL))
	i := 0
	for i < len(callbackURL) {
		if i+len(from) <= len(callbackURL) && callbackURL[i:i+len(from)] == from {
			out = append(out, to...)
			i += len(from)
			continue
		}
		out = append(out, callbackURL[i])
		i++
	}
	return string(out)
}
