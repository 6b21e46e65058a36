package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Monitor detects that the loaded client is older than the deployed build and
// drives the one-shot notification and reload lifecycle.
//
// Stop waits for the polling loop and any running reload to exit and must not
// be called from a Listener callback or a Reloader.
type Monitor struct {
	logger        zerolog.Logger
	opts          Options
	source        VersionSource
	fetcher       ManifestFetcher
	listener      Listener
	reloader      Reloader
	observers     []Observer
	tickerFactory func(time.Duration) Ticker
	afterFunc     func(time.Duration, func()) Timer

	state    *ClientVersionState
	inFlight atomic.Int32

	mu             sync.Mutex
	running        bool
	reloaded       bool
	cancel         context.CancelFunc
	done           chan struct{}
	pendingRefresh *pendingRefresh
	reloadCancel   context.CancelFunc
	reloadDone     chan struct{}
}

type pendingRefresh struct {
	timer Timer
}

// New constructs a stopped Monitor.
func New(logger zerolog.Logger, source VersionSource, fetcher ManifestFetcher, opts Options, options ...Option) (*Monitor, error) {
	if source == nil {
		return nil, errors.New("version source is required")
	}
	if fetcher == nil {
		return nil, errors.New("manifest fetcher is required")
	}
	normalized, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		logger:   logger,
		opts:     normalized,
		source:   source,
		fetcher:  fetcher,
		listener: nopListener{},
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		state: &ClientVersionState{},
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

// Options returns the effective settings.
func (m *Monitor) Options() Options {
	return m.opts
}

// ClientState exposes the per-load state for read access.
func (m *Monitor) ClientState() *ClientVersionState {
	return m.state
}

// Start performs one immediate check and then checks every CheckInterval.
// Calling Start on a running monitor logs a warning and does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reloaded {
		m.logger.Warn().Msg("monitor was reloaded; construct a new one")
		return
	}
	if m.running {
		m.logger.Warn().Msg("version check already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := m.tickerFactory(m.opts.CheckInterval)

	m.running = true
	m.cancel = cancel
	m.done = done

	m.logger.Info().
		Dur("check_interval", m.opts.CheckInterval).
		Bool("show_notification", m.opts.ShowNotification).
		Bool("auto_refresh", m.opts.AutoRefresh).
		Msg("version check started")

	go m.loop(ctx, ticker, done)
}

func (m *Monitor) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.scheduledCheck(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.scheduledCheck(ctx)
		}
	}
}

// Stop cancels polling, any pending auto-refresh and a reload still in
// progress. When it returns, no further scheduled fetch will be issued and the
// Reloader has returned. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.cancelPendingRefreshLocked()
	running := m.running
	cancel, done := m.cancel, m.done
	reloadCancel, reloadDone := m.reloadCancel, m.reloadDone
	m.running = false
	m.cancel = nil
	m.done = nil
	m.reloadCancel = nil
	m.reloadDone = nil
	m.mu.Unlock()

	if reloadCancel != nil {
		reloadCancel()
		<-reloadDone
	}
	if !running {
		return
	}

	cancel()
	<-done
	m.logger.Info().Msg("version check stopped")
}

// ManualCheck runs one check outside the schedule and reports whether the
// deployed version differs from the loaded one. It shares dedup state with
// scheduled checks.
func (m *Monitor) ManualCheck(ctx context.Context) bool {
	m.logger.Debug().Msg("manual version check")
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	return m.check(ctx)
}

// HasUpdate reports whether an update has been detected during this load.
func (m *Monitor) HasUpdate() bool {
	return m.state.HasNotified()
}

// Dismiss hides the notification. Polling and dedup state are unchanged.
// Dismissing before any update was detected does nothing.
func (m *Monitor) Dismiss() {
	if !m.state.HasNotified() {
		m.logger.Debug().Msg("no update to dismiss")
		return
	}
	m.state.dismissed.Store(true)
	m.logger.Info().Msg("update notification dismissed")
	m.listener.OnDismiss()
}

// Refresh requests a full reload. It is terminal for this monitor: polling and
// any pending auto-refresh are cancelled, the listener is told, and the
// Reloader is started in the background. Later calls do nothing.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	if m.reloaded {
		m.mu.Unlock()
		return
	}
	m.reloaded = true
	m.cancelPendingRefreshLocked()
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.done = nil

	var reloadCtx context.Context
	var reloadCancel context.CancelFunc
	var reloadDone chan struct{}
	if m.reloader != nil {
		reloadCtx, reloadCancel = context.WithCancel(context.Background())
		reloadDone = make(chan struct{})
		m.reloadCancel = reloadCancel
		m.reloadDone = reloadDone
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.logger.Info().Msg("refreshing to load the latest version")
	m.listener.OnRefreshRequested()

	if reloadDone == nil {
		m.logger.Warn().Msg("no reloader configured; reload skipped")
		return
	}
	go func() {
		defer close(reloadDone)
		defer reloadCancel()
		if err := m.reloader.Reload(reloadCtx); err != nil {
			m.logger.Error().Err(err).Msg("reload failed")
		}
	}()
}

// Lifecycle returns the coarse state.
func (m *Monitor) Lifecycle() Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.reloaded:
		return LifecycleReloaded
	case m.running:
		return LifecycleRunning
	default:
		return LifecycleStopped
	}
}

// Status returns a snapshot for status endpoints and logs.
func (m *Monitor) Status() Status {
	lifecycle := m.Lifecycle()
	status := Status{
		Name:      m.opts.Name,
		Lifecycle: lifecycle,
		HasUpdate: m.state.HasNotified(),
	}

	switch {
	case lifecycle == LifecycleReloaded:
		status.Phase = PhaseRefreshed
	case m.state.Dismissed() && status.HasUpdate:
		status.Phase = PhaseDismissed
	case status.HasUpdate:
		status.Phase = PhaseUpdateDetected
	default:
		status.Phase = PhaseNoUpdate
	}

	if current, ok := m.state.CurrentVersion(); ok {
		status.CurrentVersion = current
	}
	if latest, ok := m.state.Latest(); ok {
		status.LatestVersion = latest.Version
		status.LatestBuildTime = latest.BuildTime
	}
	if last := m.state.lastCheckTime(); !last.IsZero() {
		status.LastCheck = &last
	}
	return status
}

func (m *Monitor) scheduleAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reloaded || m.pendingRefresh != nil {
		return
	}

	pending := &pendingRefresh{}
	m.pendingRefresh = pending
	pending.timer = m.afterFunc(m.opts.AutoRefreshDelay, func() {
		m.fireAutoRefresh(pending)
	})

	m.logger.Info().Dur("delay", m.opts.AutoRefreshDelay).Msg("auto refresh scheduled")
}

func (m *Monitor) fireAutoRefresh(pending *pendingRefresh) {
	m.mu.Lock()
	if m.pendingRefresh != pending {
		m.mu.Unlock()
		return
	}
	m.pendingRefresh = nil
	m.mu.Unlock()

	m.Refresh()
}

func (m *Monitor) cancelPendingRefreshLocked() {
	if m.pendingRefresh == nil {
		return
	}
	if m.pendingRefresh.timer != nil {
		m.pendingRefresh.timer.Stop()
	}
	m.pendingRefresh = nil
}

func (m *Monitor) isReloaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloaded
}
