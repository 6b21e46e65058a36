package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeBuild(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":        `<html><head><meta name="app-version" content="1700000000000"></head></html>`,
		"version.json":      `{"version":"1700000000000","buildTime":"2023-11-14T22:13:20.000Z","buildNumber":1700000000000}`,
		"assets/app.js":     `console.log("app")`,
		"docs/index.html":   `<p>docs</p>`,
		"nested/readme.txt": `hello`,
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func newStatic(t *testing.T, opts StaticOptions) http.Handler {
	t.Helper()
	handler, err := NewStaticHandler(zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("new static handler: %v", err)
	}
	return handler
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStaticHandler_ManifestIsNotCached(t *testing.T) {
	handler := newStatic(t, StaticOptions{Dir: writeBuild(t)})

	rec := get(handler, "/version.json?1700000000123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Fatalf("unexpected cache-control %q", got)
	}
	if rec.Header().Get("Pragma") != "no-cache" {
		t.Fatalf("expected pragma no-cache")
	}
	if !strings.Contains(rec.Body.String(), `"version":"1700000000000"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestStaticHandler_EntryDocumentRevalidated(t *testing.T) {
	handler := newStatic(t, StaticOptions{Dir: writeBuild(t)})

	for _, path := range []string{"/", "/index.html"} {
		rec := get(handler, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("Cache-Control") != "no-cache" {
			t.Fatalf("%s: expected no-cache", path)
		}
		if !strings.Contains(rec.Body.String(), `name="app-version"`) {
			t.Fatalf("%s: expected entry document", path)
		}
	}
}

func TestStaticHandler_AssetsAndFallback(t *testing.T) {
	dir := writeBuild(t)

	plain := newStatic(t, StaticOptions{Dir: dir})
	if rec := get(plain, "/assets/app.js"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "console.log") {
		t.Fatalf("asset not served: %d", rec.Code)
	}
	if rec := get(plain, "/settings/profile"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without fallback, got %d", rec.Code)
	}

	spa := newStatic(t, StaticOptions{Dir: dir, SPAFallback: true})
	rec := get(spa, "/settings/profile")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="app-version"`) {
		t.Fatalf("expected entry document fallback, got %d", rec.Code)
	}
	if rec := get(spa, "/assets/missing.js"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing asset must stay 404, got %d", rec.Code)
	}
	if rec := get(spa, "/nested/readme.txt"); rec.Code != http.StatusOK {
		t.Fatalf("expected nested file, got %d", rec.Code)
	}
}

func TestStaticHandler_CORS(t *testing.T) {
	handler := newStatic(t, StaticOptions{Dir: writeBuild(t), AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/version.json", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("expected allowed origin header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/version.json", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for foreign origin")
	}

	req = httptest.NewRequest(http.MethodOptions, "/version.json", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "cache-control, pragma")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code >= 300 {
		t.Fatalf("expected successful preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight not allowed")
	}
}

func TestNewStaticHandler_Validation(t *testing.T) {
	if _, err := NewStaticHandler(zerolog.Nop(), StaticOptions{}); err == nil {
		t.Fatalf("expected error without directory")
	}
	if _, err := NewStaticHandler(zerolog.Nop(), StaticOptions{Dir: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStaticHandler(zerolog.Nop(), StaticOptions{Dir: file}); err == nil {
		t.Fatalf("expected error for file path")
	}
}

func TestParseOrigins(t *testing.T) {
	got := ParseOrigins(" https://a.example.com, ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
	if ParseOrigins("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
