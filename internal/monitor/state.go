package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nholik/freshness-sentinel/internal/manifest"
)

// Lifecycle is the coarse monitor state.
type Lifecycle string

const (
	LifecycleStopped Lifecycle = "stopped"
	LifecycleRunning Lifecycle = "running"
	// LifecycleReloaded is terminal: a reload was requested and a new monitor
	// must be constructed for the reloaded client.
	LifecycleReloaded Lifecycle = "reloaded"
)

// Phase is the detection sub-state.
type Phase string

const (
	PhaseNoUpdate       Phase = "no_update"
	PhaseUpdateDetected Phase = "update_detected"
	PhaseDismissed      Phase = "dismissed"
	PhaseRefreshed      Phase = "refreshed"
)

// CheckResult is the outcome of a single check.
type CheckResult string

const (
	ResultCurrent    CheckResult = "current"
	ResultUpdate     CheckResult = "update"
	ResultUnresolved CheckResult = "unresolved"
	ResultFetchError CheckResult = "fetch_error"
	ResultMalformed  CheckResult = "malformed"
	ResultSkipped    CheckResult = "skipped"
	ResultCanceled   CheckResult = "canceled"
)

// ClientVersionState is the per-load state owned by one Monitor. Other
// components may read it but only the monitor mutates it.
type ClientVersionState struct {
	resolveMu        sync.Mutex
	currentVersion   string
	resolved         bool
	unresolvable     bool
	unresolvedLogged bool

	hasNotified atomic.Bool
	dismissed   atomic.Bool

	latestMu  sync.RWMutex
	latest    *manifest.VersionManifest
	lastCheck time.Time
}

// CurrentVersion returns the cached token and whether it has been resolved.
func (s *ClientVersionState) CurrentVersion() (string, bool) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()
	return s.currentVersion, s.resolved
}

// HasNotified reports whether an update has been surfaced for this load.
func (s *ClientVersionState) HasNotified() bool {
	return s.hasNotified.Load()
}

// Dismissed reports whether the user dismissed the notification.
func (s *ClientVersionState) Dismissed() bool {
	return s.dismissed.Load()
}

// Latest returns the most recently fetched manifest, if any.
func (s *ClientVersionState) Latest() (manifest.VersionManifest, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	if s.latest == nil {
		return manifest.VersionManifest{}, false
	}
	return *s.latest, true
}

// markNotified moves hasNotified from false to true. Only the first caller wins.
func (s *ClientVersionState) markNotified() bool {
	return s.hasNotified.CompareAndSwap(false, true)
}

func (s *ClientVersionState) recordLatest(m manifest.VersionManifest, at time.Time) {
	s.latestMu.Lock()
	s.latest = &m
	s.lastCheck = at
	s.latestMu.Unlock()
}

func (s *ClientVersionState) lastCheckTime() time.Time {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.lastCheck
}

// Status is a point-in-time view of a monitor, suitable for JSON.
type Status struct {
	Name            string     `json:"name,omitempty"`
	Lifecycle       Lifecycle  `json:"lifecycle"`
	Phase           Phase      `json:"phase"`
	CurrentVersion  string     `json:"current_version,omitempty"`
	LatestVersion   string     `json:"latest_version,omitempty"`
	LatestBuildTime string     `json:"latest_build_time,omitempty"`
	HasUpdate       bool       `json:"has_update"`
	LastCheck       *time.Time `json:"last_check,omitempty"`
}
