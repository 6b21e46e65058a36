package stamper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nholik/freshness-sentinel/internal/manifest"
	"github.com/rs/zerolog"
)

const (
	// DefaultEntryDocument is the entry document stamped inside the output directory.
	DefaultEntryDocument = "index.html"

	buildTimeLayout = "2006-01-02T15:04:05.000Z"
)

// versionMeta matches the version carrier: <meta name="app-version" content="..." />.
// Group 1 and 3 are kept verbatim; group 2 is the value.
var versionMeta = regexp.MustCompile(`(<meta\s+name="app-version"\s+content=")([^"]*)("\s*/?>)`)

// Result summarizes a stamping run.
type Result struct {
	Manifest manifest.VersionManifest
	// StampErr is set when the entry document could not be stamped.
	StampErr error
}

// Stamper produces the build-scoped version contract.
type Stamper struct {
	logger    zerolog.Logger
	now       func() time.Time
	entryName string
	token     string
}

// Option customizes stamper behavior.
type Option func(*Stamper)

// WithClock overrides the wall clock used for tokens and build times.
func WithClock(now func() time.Time) Option {
	return func(s *Stamper) {
		s.now = now
	}
}

// WithEntryDocument overrides the entry document file name.
func WithEntryDocument(name string) Option {
	return func(s *Stamper) {
		if name != "" {
			s.entryName = name
		}
	}
}

// WithToken pins the build token instead of deriving it from the clock.
func WithToken(token string) Option {
	return func(s *Stamper) {
		s.token = strings.TrimSpace(token)
	}
}

// New constructs a Stamper.
func New(logger zerolog.Logger, opts ...Option) *Stamper {
	s := &Stamper{
		logger:    logger,
		now:       time.Now,
		entryName: DefaultEntryDocument,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateToken returns the build token: wall-clock milliseconds unless a
// token was pinned.
func (s *Stamper) GenerateToken() string {
	if s.token != "" {
		return s.token
	}
	return strconv.FormatInt(s.now().UnixMilli(), 10)
}

// WriteManifest writes version.json for token under outputDir and returns the
// version it recorded.
func (s *Stamper) WriteManifest(ctx context.Context, outputDir, token string) (string, error) {
	m, err := s.writeManifest(ctx, outputDir, token)
	if err != nil {
		return "", err
	}
	return m.Version, nil
}

func (s *Stamper) writeManifest(ctx context.Context, outputDir, token string) (manifest.VersionManifest, error) {
	store := manifest.NewFileStore(outputDir, s.logger)
	if strings.TrimSpace(token) == "" {
		return manifest.VersionManifest{}, &WriteError{Path: store.Path(), Err: errors.New("token is empty")}
	}

	built := s.now().UTC()
	m := manifest.VersionManifest{
		Version:     token,
		BuildTime:   built.Format(buildTimeLayout),
		BuildNumber: built.UnixMilli(),
	}

	if err := store.Save(ctx, m); err != nil {
		return manifest.VersionManifest{}, &WriteError{Path: store.Path(), Err: err}
	}

	s.logger.Info().
		Str("path", store.Path()).
		Str("version", m.Version).
		Str("build_time", m.BuildTime).
		Msg("version manifest written")

	return m, nil
}

// StampEntryDocument replaces the app-version meta value in the entry document
// with version. Only the first carrier is rewritten; all other bytes are kept.
func (s *Stamper) StampEntryDocument(outputDir, version string) error {
	path := filepath.Join(outputDir, s.entryName)

	if strings.ContainsAny(version, "\"<>&") {
		return &StampError{Path: path, Reason: "version contains characters that cannot be embedded in an attribute"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &StampError{Path: path, Reason: "entry document unavailable", Err: err}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return &StampError{Path: path, Reason: "read entry document", Err: err}
	}

	stamped, ok := replaceVersion(content, version)
	if !ok {
		return &StampError{Path: path, Reason: "app-version meta placeholder not found"}
	}

	if err := os.WriteFile(path, stamped, info.Mode().Perm()); err != nil {
		return &StampError{Path: path, Reason: "write entry document", Err: err}
	}

	s.logger.Info().Str("path", path).Str("version", version).Msg("entry document stamped")
	return nil
}

// Run generates a token, writes the manifest and stamps the entry document with
// the same token, in that order. Only a manifest failure is returned as an error.
func (s *Stamper) Run(ctx context.Context, outputDir string) (Result, error) {
	token := s.GenerateToken()

	m, err := s.writeManifest(ctx, outputDir, token)
	if err != nil {
		return Result{}, err
	}

	result := Result{Manifest: m}
	if err := s.StampEntryDocument(outputDir, m.Version); err != nil {
		s.logger.Error().
			Err(err).
			Str("version", m.Version).
			Msg("entry document NOT stamped; clients of this build cannot detect updates")
		result.StampErr = err
	}

	return result, nil
}

func replaceVersion(content []byte, version string) ([]byte, bool) {
	loc := versionMeta.FindSubmatchIndex(content)
	if loc == nil {
		return nil, false
	}
	valueStart, valueEnd := loc[4], loc[5]

	out := make([]byte, 0, len(content)-(valueEnd-valueStart)+len(version))
	out = append(out, content[:valueStart]...)
	out = append(out, version...)
	out = append(out, content[valueEnd:]...)
	return out, true
}
