package notify

import (
	"context"
	"time"

	"github.com/nholik/freshness-sentinel/internal/manifest"
)

// UpdateEvent describes a newly detected deployment for one target.
type UpdateEvent struct {
	Target         string                   `json:"target"`
	CurrentVersion string                   `json:"current_version"`
	Manifest       manifest.VersionManifest `json:"manifest"`
	DetectedAt     time.Time                `json:"detected_at"`
}

// Notifier delivers update events to external systems.
type Notifier interface {
	Notify(ctx context.Context, event UpdateEvent) error
}

func targetName(event UpdateEvent) string {
	if event.Target == "" {
		return "default"
	}
	return event.Target
}

// buildTimeLabel renders the manifest build time in local time for humans.
func buildTimeLabel(m manifest.VersionManifest) string {
	built := m.BuiltAt()
	if built.IsZero() {
		if m.BuildTime == "" {
			return "unknown"
		}
		return m.BuildTime
	}
	return built.Local().Format("2006-01-02 15:04:05 MST")
}
