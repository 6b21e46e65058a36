package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/nholik/freshness-sentinel/internal/entry"
)

// scheduledCheck skips the tick while another check is still in flight.
func (m *Monitor) scheduledCheck(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(0, 1) {
		m.logger.Debug().Msg("previous check still in flight, skipping tick")
		m.observe(ResultSkipped, 0)
		return
	}
	defer m.inFlight.Add(-1)
	m.check(ctx)
}

func (m *Monitor) check(ctx context.Context) bool {
	started := time.Now()

	current, result, ok := m.resolveCurrentVersion(ctx)
	if !ok {
		m.observe(result, time.Since(started))
		return false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	latest, err := m.fetcher.Fetch(fetchCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			m.observe(ResultCanceled, time.Since(started))
			return false
		}
		result := classifyFetchError(err)
		m.logger.Warn().
			Err(err).
			Str("result", string(result)).
			Bool("retryable", isRetryable(err)).
			Msg("version check failed; retrying next cycle")
		m.observe(result, time.Since(started))
		return false
	}

	m.state.recordLatest(latest, time.Now().UTC())

	if latest.Version == current {
		m.logger.Debug().Str("version", current).Msg("running the deployed version")
		m.observe(ResultCurrent, time.Since(started))
		return false
	}

	// Any inequality counts, including a rollback to an older token.
	m.observe(ResultUpdate, time.Since(started))

	if ctx.Err() != nil || m.isReloaded() {
		return true
	}

	if !m.state.markNotified() {
		return true
	}

	m.logger.Info().
		Str("latest_version", latest.Version).
		Str("current_version", current).
		Str("build_time", latest.BuildTime).
		Msg("new version detected")

	if m.opts.ShowNotification {
		m.listener.OnUpdateDetected(latest)
	}
	if m.opts.AutoRefresh {
		m.scheduleAutoRefresh()
	}

	return true
}

// resolveCurrentVersion reads the loaded token once and caches it. A document
// without the meta element disables checks for the rest of this load and is
// logged once; any other read failure is retried on the next cycle.
func (m *Monitor) resolveCurrentVersion(ctx context.Context) (string, CheckResult, bool) {
	s := m.state
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	if s.resolved {
		return s.currentVersion, ResultCurrent, true
	}
	if s.unresolvable {
		return "", ResultUnresolved, false
	}

	resolveCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	version, err := m.source.CurrentVersion(resolveCtx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ResultCanceled, false
		}
		if !errors.Is(err, entry.ErrNoVersion) {
			m.logger.Warn().
				Err(err).
				Msg("cannot read the loaded version; retrying next cycle")
			return "", ResultFetchError, false
		}
		s.unresolvable = true
		if !s.unresolvedLogged {
			s.unresolvedLogged = true
			m.logger.Warn().
				Err(&UnresolvedVersionError{Err: err}).
				Msg("cannot determine the loaded version; update checks disabled until reload")
		}
		return "", ResultUnresolved, false
	}

	s.currentVersion = version
	s.resolved = true
	m.logger.Debug().Str("current_version", version).Msg("loaded version resolved")
	return version, ResultCurrent, true
}

func (m *Monitor) observe(result CheckResult, duration time.Duration) {
	for _, observer := range m.observers {
		observer.ObserveCheck(m.opts.Name, result, duration)
	}
}
