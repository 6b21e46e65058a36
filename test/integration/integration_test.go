//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/coordinator"
	"github.com/nholik/freshness-sentinel/internal/logging"
	"github.com/nholik/freshness-sentinel/internal/metrics"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/nholik/freshness-sentinel/internal/server"
	"github.com/nholik/freshness-sentinel/internal/stamper"
)

const entryTemplate = `<!doctype html>
<html>
  <head>
    <meta name="app-version" content="build-time-version" />
  </head>
  <body><div id="root"></div></body>
</html>
`

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.UpdateEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.UpdateEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) snapshot() []notify.UpdateEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.UpdateEvent(nil), n.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func stamp(t *testing.T, dir, token string) {
	t.Helper()
	// Each build starts from the unstamped template, as a bundler would emit it.
	if err := os.WriteFile(filepath.Join(dir, stamper.DefaultEntryDocument), []byte(entryTemplate), 0o644); err != nil {
		t.Fatalf("write entry document: %v", err)
	}
	result, err := stamper.New(logging.New(), stamper.WithToken(token)).Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if result.StampErr != nil {
		t.Fatalf("entry document not stamped: %v", result.StampErr)
	}
}

// TestIntegrationStampServeWatch builds, serves and redeploys a client build
// and verifies that the loaded client is told about the new build, and that a
// refresh picks it up.
//
// Run with: go test -tags=integration -v ./test/integration/...
func TestIntegrationStampServeWatch(t *testing.T) {
	logger := logging.New()
	dir := t.TempDir()
	stamp(t, dir, "1000")

	handler, err := server.NewStaticHandler(logger, server.StaticOptions{Dir: dir, SPAFallback: true})
	if err != nil {
		t.Fatalf("static handler: %v", err)
	}
	deployment := httptest.NewServer(handler)
	defer deployment.Close()

	cfg := config.Default()
	cfg.BaseURL = deployment.URL
	cfg.CheckInterval = 100 * time.Millisecond
	cfg.FetchTimeout = 2 * time.Second
	cfg.StartDelay = 0
	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("targets: %v", err)
	}

	notifier := &recordingNotifier{}
	promMetrics := metrics.New()
	coord, err := coordinator.New(logger, cfg, targets, coordinator.Dependencies{
		Notifier:       notifier,
		Observers:      []monitor.Observer{promMetrics},
		ReloadObserver: promMetrics,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sess, ok := coord.Lookup(config.DefaultTargetName)
	if !ok {
		t.Fatalf("default target has no session")
	}

	waitFor(t, "first check", func() bool {
		status := sess.Status()
		return status.LastCheck != nil && status.CurrentVersion == "1000"
	})
	if sess.Status().HasUpdate {
		t.Fatalf("a freshly loaded client must be current")
	}

	stamp(t, dir, "2000")

	waitFor(t, "update notification", func() bool {
		return len(notifier.snapshot()) > 0
	})
	event := notifier.snapshot()[0]
	if event.CurrentVersion != "1000" || event.Manifest.Version != "2000" {
		t.Fatalf("unexpected event %+v", event)
	}

	// Further polls of the same build must not notify again.
	time.Sleep(5 * cfg.CheckInterval)
	if got := len(notifier.snapshot()); got != 1 {
		t.Fatalf("expected a single notification, got %d", got)
	}

	if err := sess.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFor(t, "reloaded client", func() bool {
		status := sess.Status()
		return status.Loads == 2 && status.CurrentVersion == "2000" && status.LastCheck != nil
	})
	if status := sess.Status(); status.HasUpdate || status.Phase != monitor.PhaseNoUpdate {
		t.Fatalf("reloaded client must be current, got %+v", status)
	}
}
