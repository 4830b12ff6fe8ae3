// Package jobmanager implements the asynchronous job gateway: a bounded
// worker pool draining a FIFO queue of submitted artwork protection jobs,
// each progressing through queued -> running -> (done|error) with
// progress callbacks at fixed checkpoints, matching app.py's
// GatewayState/JobRecord/_worker_loop.
package jobmanager

import (
	"sync"
	"time"

	"github.com/artorize/gateway/protection"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Result is the persisted outcome of a completed job: the full layer set
// and project status from the protection pipeline, plus whatever hash
// analysis ran alongside it.
type Result struct {
	OutputDir   string
	Summary     *protection.Result
	AnalysisRaw []byte // JSON-encoded analysis.json contents, nil if analysis wasn't requested
}

// Job is the single source of truth for one submission's lifecycle,
// matching app.py's JobRecord. Exactly one goroutine (the worker that
// dequeued it) mutates a Job's fields after creation; every other reader
// goes through Snapshot, which takes the same mutex.
type Job struct {
	ID    string
	Input Input

	IncludeHashAnalysis bool
	IncludeProtection   bool
	Processors          []string

	CallbackURL       string
	CallbackAuthToken string

	ArtistName          string
	ArtworkTitle        string
	ArtworkDescription  string
	ArtworkTags         []string
	ArtworkCreationTime string

	WatermarkStrategy string
	WatermarkStrength float64

	BackendURL       string
	BackendAuthToken string

	Status      Status
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
	Result      *Result

	mu sync.Mutex
}

// Input describes where the source image came from, resolved during job
// creation: LocalPath is the materialized file every job is processed from,
// ImageURL records the download source when the image was fetched, and
// Format is the sniffed or declared format.
type Input struct {
	LocalPath string // streamed multipart upload, already materialized on disk
	ImageURL  string // to be downloaded
	Format    string // sniffed or declared content type, filled in once resolved
}

// Touch updates status/error and refreshes UpdatedAt, matching
// JobRecord.touch. It is the only way a job's lifecycle fields change
// after creation, preserving the single-writer invariant.
func (j *Job) Touch(status Status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	if errMsg != "" {
		j.Error = errMsg
	}
	j.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the job's mutable fields for safe reading
// from other goroutines (HTTP handlers).
func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *j
	cp.mu = sync.Mutex{}
	return cp
}
