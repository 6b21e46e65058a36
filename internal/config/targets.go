package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTargetName names the single target configured through FS_BASE_URL.
const DefaultTargetName = "default"

// Target is one deployed client to watch.
type Target struct {
	Name          string        `yaml:"name"`
	BaseURL       string        `yaml:"base_url"`
	ManifestPath  string        `yaml:"manifest_path,omitempty"`
	EntryPath     string        `yaml:"entry_path,omitempty"`
	EntryURL      string        `yaml:"entry_url,omitempty"`
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
	AutoRefresh   *bool         `yaml:"auto_refresh,omitempty"`
	ReloadCommand string        `yaml:"reload_command,omitempty"`
}

// TargetsFile is the parsed YAML structure for multi-target configuration:
// targets: [{name, base_url, manifest_path, entry_path, entry_url, check_interval, auto_refresh, reload_command}]
type TargetsFile struct {
	Targets []Target `yaml:"targets"`
}

// ManifestURL resolves the manifest location against the base URL.
func (t Target) ManifestURL() (string, error) {
	return joinURL(t.BaseURL, t.ManifestPath)
}

// EntryDocumentURL is where the loaded token is read from when no local
// entry document is configured. It defaults to the base URL itself.
func (t Target) EntryDocumentURL() (string, error) {
	if t.EntryURL != "" {
		return t.EntryURL, nil
	}
	return joinURL(t.BaseURL, "/")
}

// AutoRefreshEnabled reports the effective auto-refresh setting.
func (t Target) AutoRefreshEnabled() bool {
	return t.AutoRefresh != nil && *t.AutoRefresh
}

// LoadTargetsFile parses a YAML targets file from the given path.
// Returns nil if path is empty (no targets file).
func LoadTargetsFile(path string) ([]Target, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var tf TargetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	if err := validateTargets(tf.Targets); err != nil {
		return nil, err
	}

	return tf.Targets, nil
}

// Targets returns the targets to watch: the entries of the targets file with
// unset fields taken from c, or a single target built from c.
func (c Config) Targets() ([]Target, error) {
	if c.TargetsFile == "" {
		autoRefresh := c.AutoRefresh
		return []Target{{
			Name:          DefaultTargetName,
			BaseURL:       c.BaseURL,
			ManifestPath:  c.ManifestPath,
			EntryPath:     c.EntryPath,
			EntryURL:      c.EntryURL,
			CheckInterval: c.CheckInterval,
			AutoRefresh:   &autoRefresh,
			ReloadCommand: c.ReloadCommand,
		}}, nil
	}

	targets, err := LoadTargetsFile(c.TargetsFile)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		t := &targets[i]
		if t.ManifestPath == "" {
			t.ManifestPath = c.ManifestPath
		}
		if t.CheckInterval == 0 {
			t.CheckInterval = c.CheckInterval
		}
		if t.AutoRefresh == nil {
			autoRefresh := c.AutoRefresh
			t.AutoRefresh = &autoRefresh
		}
		if t.ReloadCommand == "" {
			t.ReloadCommand = c.ReloadCommand
		}
	}
	return targets, nil
}

// validateTargets ensures all targets are valid.
func validateTargets(targets []Target) error {
	if len(targets) == 0 {
		return fmt.Errorf("targets file contains no targets")
	}

	seen := make(map[string]bool)

	for i, t := range targets {
		if t.Name == "" {
			return fmt.Errorf("target %d: name is required", i)
		}

		if t.BaseURL == "" {
			return fmt.Errorf("target %q: base_url is required", t.Name)
		}

		if err := validateURL(t.BaseURL, "base_url"); err != nil {
			return fmt.Errorf("target %q: %w", t.Name, err)
		}

		if t.EntryURL != "" {
			if err := validateURL(t.EntryURL, "entry_url"); err != nil {
				return fmt.Errorf("target %q: %w", t.Name, err)
			}
		}

		if t.EntryURL != "" && t.EntryPath != "" {
			return fmt.Errorf("target %q: entry_path and entry_url are mutually exclusive", t.Name)
		}

		if seen[t.Name] {
			return fmt.Errorf("target %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		if t.CheckInterval < 0 {
			return fmt.Errorf("target %q: check_interval cannot be negative", t.Name)
		}
	}

	return nil
}

func joinURL(base, path string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if path == "" || path == "/" {
		if !strings.HasSuffix(parsed.Path, "/") {
			parsed.Path += "/"
		}
		return parsed.String(), nil
	}
	return parsed.JoinPath(path).String(), nil
}
