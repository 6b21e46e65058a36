package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/nholik/freshness-sentinel/internal/manifest"
)

const (
	DefaultCheckInterval    = 5 * time.Minute
	DefaultAutoRefreshDelay = 10 * time.Second
	DefaultFetchTimeout     = 10 * time.Second
)

// Options are the recognized monitor settings.
type Options struct {
	// Name labels logs and observations; it does not affect behavior.
	Name             string
	CheckInterval    time.Duration
	ShowNotification bool
	AutoRefresh      bool
	AutoRefreshDelay time.Duration
	// FetchTimeout bounds each manifest fetch. It is kept below CheckInterval.
	FetchTimeout time.Duration
}

// DefaultOptions returns the defaults: check every 5 minutes, show the
// notification, never reload on our own.
func DefaultOptions() Options {
	return Options{
		CheckInterval:    DefaultCheckInterval,
		ShowNotification: true,
		AutoRefresh:      false,
		AutoRefreshDelay: DefaultAutoRefreshDelay,
		FetchTimeout:     DefaultFetchTimeout,
	}
}

func (o Options) normalize() (Options, error) {
	if o.CheckInterval <= 0 {
		return o, errors.New("check interval must be greater than zero")
	}
	if o.AutoRefreshDelay < 0 {
		return o, errors.New("auto refresh delay cannot be negative")
	}
	if o.AutoRefreshDelay == 0 {
		o.AutoRefreshDelay = DefaultAutoRefreshDelay
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.FetchTimeout >= o.CheckInterval {
		o.FetchTimeout = o.CheckInterval / 2
	}
	return o, nil
}

// VersionSource resolves the token imprinted in the loaded entry document.
type VersionSource interface {
	CurrentVersion(ctx context.Context) (string, error)
}

// ManifestFetcher retrieves the currently deployed manifest.
type ManifestFetcher interface {
	Fetch(ctx context.Context) (manifest.VersionManifest, error)
}

// Listener is the presentation side of the notification lifecycle.
type Listener interface {
	OnUpdateDetected(m manifest.VersionManifest)
	OnDismiss()
	OnRefreshRequested()
}

// Reloader performs a full reload of the client.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) error

// Reload implements Reloader.
func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

// Observer receives the outcome of every check.
type Observer interface {
	ObserveCheck(name string, result CheckResult, duration time.Duration)
}

// Ticker is the minimal interface needed for driving the polling loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Option customizes monitor behavior.
type Option func(*Monitor)

// WithTickerFactory overrides how polling tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(m *Monitor) {
		m.tickerFactory = factory
	}
}

// WithAfterFunc overrides how the auto-refresh timer is scheduled.
func WithAfterFunc(afterFunc func(time.Duration, func()) Timer) Option {
	return func(m *Monitor) {
		m.afterFunc = afterFunc
	}
}

// WithListener sets the notification listener.
func WithListener(listener Listener) Option {
	return func(m *Monitor) {
		if listener != nil {
			m.listener = listener
		}
	}
}

// WithReloader sets how a full reload is performed.
func WithReloader(reloader Reloader) Option {
	return func(m *Monitor) {
		m.reloader = reloader
	}
}

// WithObserver adds an observer of check outcomes.
func WithObserver(observer Observer) Option {
	return func(m *Monitor) {
		if observer != nil {
			m.observers = append(m.observers, observer)
		}
	}
}

type nopListener struct{}

func (nopListener) OnUpdateDetected(manifest.VersionManifest) {}
func (nopListener) OnDismiss()                                {}
func (nopListener) OnRefreshRequested()                       {}
