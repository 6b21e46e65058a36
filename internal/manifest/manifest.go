package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FileName is the manifest artifact written to the build output directory.
const FileName = "version.json"

// VersionManifest describes what is currently deployed.
type VersionManifest struct {
	Version     string `json:"version"`
	BuildTime   string `json:"buildTime"`
	BuildNumber int64  `json:"buildNumber"`
}

// BuiltAt parses BuildTime. The zero time is returned when it is absent or invalid.
func (m VersionManifest) BuiltAt() time.Time {
	if m.BuildTime == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, m.BuildTime)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// MalformedManifestError reports a manifest body that could not be used.
type MalformedManifestError struct {
	Reason string
	Err    error
}

func (e *MalformedManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed manifest: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed manifest: %s", e.Reason)
}

func (e *MalformedManifestError) Unwrap() error {
	return e.Err
}

// Decode parses a manifest body. The body must be a JSON object with a non-empty version.
func Decode(body []byte) (VersionManifest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return VersionManifest{}, &MalformedManifestError{Reason: "empty body"}
	}
	if trimmed[0] != '{' {
		return VersionManifest{}, &MalformedManifestError{Reason: "body is not a JSON object"}
	}

	var m VersionManifest
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return VersionManifest{}, &MalformedManifestError{Reason: "decode", Err: err}
	}
	if strings.TrimSpace(m.Version) == "" {
		return VersionManifest{}, &MalformedManifestError{Reason: "version is missing"}
	}
	return m, nil
}

// Encode renders a manifest the way the build writes it: two-space indented JSON.
func Encode(m VersionManifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
