package healthcheck

import (
	"sort"
	"sync"
	"time"

	"github.com/nholik/freshness-sentinel/internal/monitor"
)

// TargetSnapshot describes the latest check of one target.
type TargetSnapshot struct {
	LastCheckTime      *time.Time          `json:"last_check_time"`
	LastSuccessfulTime *time.Time          `json:"last_successful_time"`
	LastResult         monitor.CheckResult `json:"last_result,omitempty"`
	CheckDurationMS    int64               `json:"check_duration_ms"`
}

// Snapshot describes the latest check timing details.
type Snapshot struct {
	LastCheckTime   *time.Time                `json:"last_check_time"`
	CheckDurationMS int64                     `json:"check_duration_ms"`
	TargetsChecked  int                       `json:"targets_checked"`
	Targets         map[string]TargetSnapshot `json:"targets,omitempty"`
}

type targetState struct {
	interval    time.Duration
	lastCheck   time.Time
	lastSuccess time.Time
	lastResult  monitor.CheckResult
	duration    time.Duration
}

// Tracker records check timing for health endpoints. It implements
// monitor.Observer.
type Tracker struct {
	mu        sync.RWMutex
	now       func() time.Time
	targets   map[string]*targetState
	lastCheck time.Time
	lastName  string
	ready     bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:     func() time.Time { return time.Now().UTC() },
		targets: make(map[string]*targetState),
	}
}

// Register declares a target and its check interval so that a target that
// never succeeds counts against health.
func (t *Tracker) Register(target string, interval time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateLocked(target).interval = interval
}

// ObserveCheck records a completed check. Skipped and canceled checks are ignored.
func (t *Tracker) ObserveCheck(target string, result monitor.CheckResult, duration time.Duration) {
	if t == nil {
		return
	}
	if result == monitor.ResultSkipped || result == monitor.ResultCanceled {
		return
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.stateLocked(target)
	state.lastCheck = now
	state.lastResult = result
	state.duration = duration
	t.lastCheck = now
	t.lastName = target

	if result == monitor.ResultCurrent || result == monitor.ResultUpdate {
		state.lastSuccess = now
		t.ready = true
	}
}

func (t *Tracker) stateLocked(target string) *targetState {
	state, ok := t.targets[target]
	if !ok {
		state = &targetState{}
		t.targets[target] = state
	}
	return state
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := Snapshot{Targets: make(map[string]TargetSnapshot, len(t.targets))}
	snapshot.LastCheckTime = timePtr(t.lastCheck)
	if state, ok := t.targets[t.lastName]; ok {
		snapshot.CheckDurationMS = int64(state.duration / time.Millisecond)
	}

	names := make([]string, 0, len(t.targets))
	for name := range t.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := t.targets[name]
		if !state.lastCheck.IsZero() {
			snapshot.TargetsChecked++
		}
		snapshot.Targets[name] = TargetSnapshot{
			LastCheckTime:      timePtr(state.lastCheck),
			LastSuccessfulTime: timePtr(state.lastSuccess),
			LastResult:         state.lastResult,
			CheckDurationMS:    int64(state.duration / time.Millisecond),
		}
	}
	return snapshot
}

// Ready reports whether at least one check has reached a manifest.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Registered returns the number of known targets.
func (t *Tracker) Registered() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.targets)
}

// Stale returns, sorted, the targets that have not reached their manifest
// within 2x their check interval. Targets registered without an interval use
// fallback; a target that never succeeded is stale.
func (t *Tracker) Stale(now time.Time, fallback time.Duration) []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	for name, state := range t.targets {
		interval := state.interval
		if interval <= 0 {
			interval = fallback
		}
		if interval <= 0 || state.lastSuccess.IsZero() || now.Sub(state.lastSuccess) > 2*interval {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

func timePtr(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
