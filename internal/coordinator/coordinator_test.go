package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/rs/zerolog"
)

// deployment serves an entry document and manifest whose versions can be
// changed independently, like a host that was redeployed after a client loaded.
type deployment struct {
	mu       sync.Mutex
	loaded   string
	deployed string
}

func (d *deployment) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/version.json", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"version":%q,"buildTime":"2024-01-02T03:04:05.000Z","buildNumber":1}`, d.deployed)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, _ = fmt.Fprintf(w, `<html><head><meta name="app-version" content=%q></head></html>`, d.loaded)
	})
	return mux
}

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

func (n *recordingNotifier) targets() map[string]bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]bool)
	for _, event := range n.events {
		out[event.Target] = true
	}
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CheckInterval = time.Hour
	cfg.FetchTimeout = time.Second
	cfg.StartDelay = 0
	return cfg
}

func TestCoordinator_MultipleTargets(t *testing.T) {
	stale := &deployment{loaded: "100", deployed: "200"}
	fresh := &deployment{loaded: "300", deployed: "300"}
	staleServer := httptest.NewServer(stale.handler())
	defer staleServer.Close()
	freshServer := httptest.NewServer(fresh.handler())
	defer freshServer.Close()

	targets := []config.Target{
		{Name: "stale", BaseURL: staleServer.URL, ManifestPath: "/version.json", CheckInterval: time.Hour},
		{Name: "fresh", BaseURL: freshServer.URL, ManifestPath: "/version.json", CheckInterval: time.Hour},
	}
	notifier := &recordingNotifier{}

	coord, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{Notifier: notifier})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		statuses := coord.Statuses()
		if len(statuses) == 2 && statuses[0].LastCheck != nil && statuses[1].LastCheck != nil && statuses[0].HasUpdate {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("targets were not checked: %+v", statuses)
		}
		time.Sleep(10 * time.Millisecond)
	}

	statuses := coord.Statuses()
	if statuses[0].Name != "stale" || statuses[0].CurrentVersion != "100" || statuses[0].LatestVersion != "200" {
		t.Fatalf("unexpected stale status %+v", statuses[0])
	}
	if statuses[1].Name != "fresh" || statuses[1].HasUpdate {
		t.Fatalf("unexpected fresh status %+v", statuses[1])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}

	got := notifier.targets()
	if !got["stale"] || got["fresh"] {
		t.Fatalf("expected only stale to notify, got %v", got)
	}
}

func TestCoordinator_FileEntrySource(t *testing.T) {
	dep := &deployment{deployed: "200"}
	server := httptest.NewServer(dep.handler())
	defer server.Close()

	entryPath := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(entryPath, []byte(`<meta name="app-version" content="200">`), 0o644); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	targets := []config.Target{{Name: "local", BaseURL: server.URL, ManifestPath: "/version.json", EntryPath: entryPath}}
	coord, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
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

	s, ok := coord.Lookup("local")
	if !ok {
		t.Fatalf("expected local session")
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.Status().LastCheck == nil {
		if time.Now().After(deadline) {
			t.Fatalf("target was not checked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	status := s.Status()
	if status.CurrentVersion != "200" || status.HasUpdate || status.Phase != monitor.PhaseNoUpdate {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCoordinator_InvalidTargetSkipped(t *testing.T) {
	targets := []config.Target{
		{Name: "bad-url", BaseURL: "ht!tp://invalid"},
		{Name: "good", BaseURL: "https://draw.example.com", ManifestPath: "/version.json"},
	}

	coord, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := coord.Lookup("bad-url"); ok {
		t.Fatalf("invalid target must not get a session")
	}
	if _, ok := coord.Errors()["bad-url"]; !ok {
		t.Fatalf("expected recorded error for bad-url")
	}
	if got := coord.Targets(); len(got) != 1 || got[0].Name != "good" {
		t.Fatalf("unexpected targets %+v", got)
	}
}

func TestCoordinator_NoUsableTargets(t *testing.T) {
	targets := []config.Target{{Name: "bad-url", BaseURL: "ht!tp://invalid"}}
	if _, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{}); err == nil {
		t.Fatalf("expected error when no target is usable")
	}
}

func TestCoordinator_ReloadCommandWired(t *testing.T) {
	targets := []config.Target{{
		Name:          "kiosk",
		BaseURL:       "https://draw.example.com",
		ManifestPath:  "/version.json",
		ReloadCommand: "   ",
	}}
	// A blank command after trimming is rejected by the reloader.
	if _, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{}); err == nil {
		t.Fatalf("expected error for blank reload command")
	}
}

func TestCoordinator_CheckOnce(t *testing.T) {
	stale := &deployment{loaded: "100", deployed: "200"}
	fresh := &deployment{loaded: "300", deployed: "300"}
	staleServer := httptest.NewServer(stale.handler())
	defer staleServer.Close()
	freshServer := httptest.NewServer(fresh.handler())
	defer freshServer.Close()

	targets := []config.Target{
		{Name: "stale", BaseURL: staleServer.URL, ManifestPath: "/version.json"},
		{Name: "fresh", BaseURL: freshServer.URL, ManifestPath: "/version.json"},
		{Name: "missing", BaseURL: freshServer.URL, ManifestPath: "/nope.json"},
	}
	notifier := &recordingNotifier{}
	coord, err := New(zerolog.Nop(), testConfig(), targets, Dependencies{Notifier: notifier})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	reports := coord.CheckOnce(context.Background())
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	if reports[0].Target != "stale" || reports[0].Result != monitor.ResultUpdate || reports[0].Status.LatestVersion != "200" {
		t.Fatalf("unexpected stale report %+v", reports[0])
	}
	if reports[1].Target != "fresh" || reports[1].Result != monitor.ResultCurrent {
		t.Fatalf("unexpected fresh report %+v", reports[1])
	}
	// The catch-all handler answers with HTML, which is not a manifest.
	if reports[2].Result != monitor.ResultMalformed {
		t.Fatalf("expected malformed manifest, got %+v", reports[2])
	}
	if len(notifier.targets()) != 0 {
		t.Fatalf("one-shot checks must not notify")
	}
}
