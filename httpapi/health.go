package httpapi

import (
	"net/http"
	"os"
	"time"
)

type healthResponse struct {
	Status    string            `json:"status"`
	UptimeMS  int64             `json:"uptime_ms"`
	QueueSize int               `json:"queue_depth"`
	Workers   int               `json:"worker_count"`
	Checks    map[string]string `json:"checks"`
}

// handleHealth reports component health, matching app.py's /health: the
// worker pool's queue depth/concurrency, and a writability probe on the
// output root, surfaced as named sub-checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"job_manager": "ok",
		"output_dir":  s.checkOutputDir(),
	}

	status := "ok"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		UptimeMS:  time.Since(s.StartedAt).Milliseconds(),
		QueueSize: s.Manager.QueueDepth(),
		Workers:   s.Manager.WorkerCount(),
		Checks:    checks,
	})
}

func (s *Server) checkOutputDir() string {
	probe := s.OutputRoot + "/.health-probe"
	f, err := os.Create(probe)
	if err != nil {
		return "unwritable: " + err.Error()
	}
	f.Close()
	_ = os.Remove(probe)
	return "ok"
}
