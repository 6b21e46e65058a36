package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// Report is the body of /healthz and /readyz: the snapshot plus the verdict.
type Report struct {
	Status string `json:"status"`
	// Stale lists targets whose manifest has not been reached within twice
	// their check interval.
	Stale []string `json:"stale,omitempty"`
	Snapshot
}

const (
	statusOK       = "ok"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthHandler serves /healthz. It fails while any target is stale so an
// orchestrator restarts a watcher that can no longer see its deployments.
func HealthHandler(tracker *Tracker, checkInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Report{Status: statusStarting, Snapshot: tracker.Snapshot()}
		code := http.StatusServiceUnavailable
		if tracker.Registered() > 0 {
			report.Stale = tracker.Stale(time.Now().UTC(), checkInterval)
			report.Status = statusDegraded
			if len(report.Stale) == 0 {
				report.Status = statusOK
				code = http.StatusOK
			}
		}
		writeReport(w, code, report)
	}
}

// ReadyHandler serves /readyz. It succeeds once any target reached its manifest.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Report{Status: statusStarting, Snapshot: tracker.Snapshot()}
		code := http.StatusServiceUnavailable
		if tracker.Ready() {
			report.Status = statusOK
			code = http.StatusOK
		}
		writeReport(w, code, report)
	}
}

func writeReport(w http.ResponseWriter, code int, report Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
