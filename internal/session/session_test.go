package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nholik/freshness-sentinel/internal/entry"
	"github.com/nholik/freshness-sentinel/internal/manifest"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/nholik/freshness-sentinel/internal/prompt"
	"github.com/rs/zerolog"
)

type idleTicker struct {
	ch chan time.Time
}

func (t idleTicker) C() <-chan time.Time { return t.ch }
func (t idleTicker) Stop()               {}

func idleTickers() monitor.Option {
	return monitor.WithTickerFactory(func(time.Duration) monitor.Ticker {
		return idleTicker{ch: make(chan time.Time)}
	})
}

type staticFetcher struct {
	mu      sync.Mutex
	version string
}

func (f *staticFetcher) set(version string) {
	f.mu.Lock()
	f.version = version
	f.mu.Unlock()
}

func (f *staticFetcher) Fetch(context.Context) (manifest.VersionManifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return manifest.VersionManifest{Version: f.version, BuildTime: "2024-01-02T03:04:05.000Z"}, nil
}

type chanNotifier struct {
	events chan notify.UpdateEvent
}

func (n *chanNotifier) Notify(_ context.Context, event notify.UpdateEvent) error {
	n.events <- event
	return nil
}

type scriptedPresenter struct {
	choice prompt.Choice
	shown  chan notify.UpdateEvent
}

func (p *scriptedPresenter) Prompt(ctx context.Context, event notify.UpdateEvent, actions prompt.Actions) prompt.Choice {
	select {
	case p.shown <- event:
	case <-ctx.Done():
		return prompt.ChoiceNone
	}
	switch p.choice {
	case prompt.ChoiceRefresh:
		actions.Refresh()
	case prompt.ChoiceDismiss:
		actions.Dismiss()
	}
	return p.choice
}

type recordingReloads struct {
	mu    sync.Mutex
	count int
	errs  []error
}

func (r *recordingReloads) ObserveReload(_ string, err error) {
	r.mu.Lock()
	r.count++
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReloads) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// versionSources hands out one source per load in order, repeating the last.
func versionSources(versions ...string) SourceFactory {
	var mu sync.Mutex
	i := 0
	return func() (monitor.VersionSource, error) {
		mu.Lock()
		defer mu.Unlock()
		v := versions[i]
		if i < len(versions)-1 {
			i++
		}
		return entry.StaticSource(v), nil
	}
}

func testOptions() monitor.Options {
	opts := monitor.DefaultOptions()
	opts.CheckInterval = time.Hour
	return opts
}

func runSession(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	return cancel, errCh
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func receiveEvent(t *testing.T, ch <-chan notify.UpdateEvent) notify.UpdateEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return notify.UpdateEvent{}
}

func TestSession_NotifiesOnUpdate(t *testing.T) {
	notifier := &chanNotifier{events: make(chan notify.UpdateEvent, 1)}
	presenter := &scriptedPresenter{choice: prompt.ChoiceNone, shown: make(chan notify.UpdateEvent, 1)}

	s, err := New(zerolog.Nop(), Config{
		Target:         "draw",
		Options:        testOptions(),
		Source:         versionSources("100"),
		Fetcher:        &staticFetcher{version: "200"},
		Notifier:       notifier,
		Presenter:      presenter,
		MonitorOptions: []monitor.Option{idleTickers()},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cancel, errCh := runSession(t, s)

	event := receiveEvent(t, notifier.events)
	if event.Target != "draw" || event.CurrentVersion != "100" || event.Manifest.Version != "200" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.DetectedAt.IsZero() {
		t.Fatalf("expected detection time")
	}
	receiveEvent(t, presenter.shown)

	status := s.Status()
	if status.Phase != monitor.PhaseUpdateDetected || !status.HasUpdate {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LoadID == "" || status.Loads != 1 {
		t.Fatalf("expected first load, got %+v", status)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSession_RefreshStartsNewLoad(t *testing.T) {
	fetcher := &staticFetcher{version: "200"}
	presenter := &scriptedPresenter{choice: prompt.ChoiceRefresh, shown: make(chan notify.UpdateEvent, 1)}
	reloads := &recordingReloads{}
	var reloaderCalls sync.WaitGroup
	reloaderCalls.Add(1)

	s, err := New(zerolog.Nop(), Config{
		Options:   testOptions(),
		Source:    versionSources("100", "200"),
		Fetcher:   fetcher,
		Presenter: presenter,
		Reloader: monitor.ReloaderFunc(func(context.Context) error {
			reloaderCalls.Done()
			return nil
		}),
		ReloadObserver: reloads,
		MonitorOptions: []monitor.Option{idleTickers()},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cancel, errCh := runSession(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	receiveEvent(t, presenter.shown)
	reloaderCalls.Wait()

	waitFor(t, func() bool { return s.Status().Loads == 2 })
	waitFor(t, func() bool {
		status := s.Status()
		return status.CurrentVersion == "200" && status.Lifecycle == monitor.LifecycleRunning
	})

	status := s.Status()
	if status.HasUpdate {
		t.Fatalf("reloaded client should be current, got %+v", status)
	}
	if reloads.total() != 1 {
		t.Fatalf("expected 1 observed reload, got %d", reloads.total())
	}
}

func TestSession_ReloadFailureStillStartsNewLoad(t *testing.T) {
	reloads := &recordingReloads{}
	presenter := &scriptedPresenter{choice: prompt.ChoiceRefresh, shown: make(chan notify.UpdateEvent, 2)}

	s, err := New(zerolog.Nop(), Config{
		Options:   testOptions(),
		Source:    versionSources("100"),
		Fetcher:   &staticFetcher{version: "200"},
		Presenter: presenter,
		Reloader: monitor.ReloaderFunc(func(context.Context) error {
			return errors.New("boom")
		}),
		ReloadObserver: reloads,
		MonitorOptions: []monitor.Option{idleTickers()},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cancel, errCh := runSession(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	receiveEvent(t, presenter.shown)
	// The reloaded client is still stale, so the next load notifies again.
	receiveEvent(t, presenter.shown)

	waitFor(t, func() bool { return reloads.total() >= 1 })
	reloads.mu.Lock()
	first := reloads.errs[0]
	reloads.mu.Unlock()
	if first == nil {
		t.Fatalf("expected reload error to be observed")
	}
}

func TestSession_DismissKeepsLoad(t *testing.T) {
	presenter := &scriptedPresenter{choice: prompt.ChoiceDismiss, shown: make(chan notify.UpdateEvent, 1)}

	s, err := New(zerolog.Nop(), Config{
		Options:        testOptions(),
		Source:         versionSources("100"),
		Fetcher:        &staticFetcher{version: "200"},
		Presenter:      presenter,
		MonitorOptions: []monitor.Option{idleTickers()},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cancel, errCh := runSession(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	receiveEvent(t, presenter.shown)
	waitFor(t, func() bool { return s.Status().Phase == monitor.PhaseDismissed })

	if s.Status().Loads != 1 {
		t.Fatalf("dismiss must not reload")
	}
	// Further checks still detect the update but do not notify again.
	updated, err := s.CheckNow(context.Background())
	if err != nil || !updated {
		t.Fatalf("expected manual check to see update, got %v %v", updated, err)
	}
	select {
	case <-presenter.shown:
		t.Fatalf("notification must not repeat")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ActionsBeforeLoad(t *testing.T) {
	s, err := New(zerolog.Nop(), Config{
		Source:  versionSources("100"),
		Fetcher: &staticFetcher{version: "100"},
		Options: testOptions(),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.CheckNow(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if err := s.Dismiss(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if err := s.Refresh(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	status := s.Status()
	if status.Name != "default" || status.Lifecycle != monitor.LifecycleStopped {
		t.Fatalf("unexpected idle status %+v", status)
	}
}

func TestSession_StartDelayHonorsCancel(t *testing.T) {
	s, err := New(zerolog.Nop(), Config{
		Source:     versionSources("100"),
		Fetcher:    &staticFetcher{version: "100"},
		Options:    testOptions(),
		StartDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	cancel, errCh := runSession(t, s)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if s.Status().Loads != 0 {
		t.Fatalf("no load should start during the delay")
	}
}

func TestSession_SourceError(t *testing.T) {
	s, err := New(zerolog.Nop(), Config{
		Source: func() (monitor.VersionSource, error) {
			return nil, errors.New("missing entry")
		},
		Fetcher: &staticFetcher{version: "100"},
		Options: testOptions(),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(zerolog.Nop(), Config{Fetcher: &staticFetcher{}}); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := New(zerolog.Nop(), Config{Source: versionSources("1")}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
	if _, err := New(zerolog.Nop(), Config{Source: versionSources("1"), Fetcher: &staticFetcher{}, StartDelay: -time.Second}); err == nil {
		t.Fatalf("expected error for negative delay")
	}
}
