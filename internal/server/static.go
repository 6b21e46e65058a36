package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nholik/freshness-sentinel/internal/manifest"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const defaultEntryDocument = "index.html"

// StaticOptions configures the build output server.
type StaticOptions struct {
	Dir           string
	EntryDocument string
	// AllowedOrigins empty allows any origin.
	AllowedOrigins []string
	// SPAFallback serves the entry document for unknown extension-less paths.
	SPAFallback bool
}

// NewStaticHandler serves a stamped build directory. The manifest is never
// cached and the entry document is always revalidated, so a deployed build is
// visible to the next check and the next reload.
func NewStaticHandler(logger zerolog.Logger, opts StaticOptions) (http.Handler, error) {
	if opts.Dir == "" {
		return nil, errors.New("static directory is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("static directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static directory %s is not a directory", opts.Dir)
	}
	if opts.EntryDocument == "" {
		opts.EntryDocument = defaultEntryDocument
	}

	s := &staticHandler{
		dir:   opts.Dir,
		entry: opts.EntryDocument,
		spa:   opts.SPAFallback,
		files: http.FileServer(http.Dir(opts.Dir)),
	}

	router := mux.NewRouter()
	// Cross-origin checks send Cache-Control and Pragma, which forces a preflight.
	router.HandleFunc("/"+manifest.FileName, s.serveManifest).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/", s.serveEntry).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/"+opts.EntryDocument, s.serveEntry).Methods(http.MethodGet, http.MethodHead)
	router.PathPrefix("/").HandlerFunc(s.serveAsset).Methods(http.MethodGet, http.MethodHead)

	corsOptions := cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"Cache-Control", "Pragma"},
	}
	if len(opts.AllowedOrigins) == 0 {
		corsOptions.AllowedOrigins = []string{"*"}
	}
	router.Use(cors.New(corsOptions).Handler, accessLog(logger))

	return router, nil
}

type staticHandler struct {
	dir   string
	entry string
	spa   bool
	files http.Handler
}

func (s *staticHandler) serveManifest(w http.ResponseWriter, r *http.Request) {
	setNoStore(w.Header())
	http.ServeFile(w, r, filepath.Join(s.dir, manifest.FileName))
}

func (s *staticHandler) serveEntry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	// ServeFile redirects requests ending in /index.html; serve the content directly.
	f, err := os.Open(filepath.Join(s.dir, s.entry))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, s.entry, info.ModTime(), f)
}

func (s *staticHandler) serveAsset(w http.ResponseWriter, r *http.Request) {
	clean := path.Clean("/" + r.URL.Path)
	if s.spa && path.Ext(clean) == "" {
		if _, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(clean))); errors.Is(err, os.ErrNotExist) {
			s.serveEntry(w, r)
			return
		}
	}
	s.files.ServeHTTP(w, r)
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(started)).
				Msg("request served")
		})
	}
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, logger zerolog.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("static server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownServer(logger, server, "static")
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
