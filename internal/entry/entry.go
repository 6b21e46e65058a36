// Package entry reads the build token imprinted into a loaded entry document.
package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/freshness-sentinel/internal/fetcher"
	"golang.org/x/net/html"
)

// MetaName is the name of the meta element carrying the build token.
const MetaName = "app-version"

const defaultMaxBytes int64 = 2 << 20

// ErrNoVersion means the document has no usable app-version meta element.
var ErrNoVersion = errors.New("app-version meta element not found")

// ExtractVersion returns the content of the first <meta name="app-version"> element.
func ExtractVersion(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", err
			}
			return "", ErrNoVersion
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "meta" {
				continue
			}
			var name, content string
			var hasContent bool
			for _, attr := range token.Attr {
				switch strings.ToLower(attr.Key) {
				case "name":
					name = attr.Val
				case "content":
					content = attr.Val
					hasContent = true
				}
			}
			if !strings.EqualFold(name, MetaName) {
				continue
			}
			content = strings.TrimSpace(content)
			if !hasContent || content == "" {
				return "", ErrNoVersion
			}
			return content, nil
		}
	}
}

// FileSource reads the token from an entry document on disk.
type FileSource struct {
	path string
}

// NewFileSource returns a source for the document at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// CurrentVersion implements monitor.VersionSource.
func (s *FileSource) CurrentVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read entry document: %w", err)
	}
	return ExtractVersion(bytes.NewReader(data))
}

// HTTPSource reads the token from the deployed entry document. It is meant to be
// resolved once per monitor, standing in for the document the client loaded.
type HTTPSource struct {
	url      string
	client   *retryablehttp.Client
	maxBytes int64
}

// NewHTTPSource returns a source fetching the document at url.
func NewHTTPSource(url string, timeout time.Duration) (*HTTPSource, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("entry url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	return &HTTPSource{
		url:      url,
		client:   fetcher.NewClient(timeout),
		maxBytes: defaultMaxBytes,
	}, nil
}

// CurrentVersion implements monitor.VersionSource.
func (s *HTTPSource) CurrentVersion(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch entry document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch entry document: unexpected status: %s", resp.Status)
	}

	body, err := fetcher.ReadWithLimit(resp.Body, s.maxBytes)
	if err != nil {
		return "", err
	}
	return ExtractVersion(bytes.NewReader(body))
}

// StaticSource returns a fixed token. An empty token behaves like a document
// without the meta element.
type StaticSource string

// CurrentVersion implements monitor.VersionSource.
func (s StaticSource) CurrentVersion(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoVersion
	}
	return string(s), nil
}
