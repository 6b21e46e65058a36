package monitor

import (
	"errors"
	"fmt"

	"github.com/nholik/freshness-sentinel/internal/fetcher"
	"github.com/nholik/freshness-sentinel/internal/manifest"
)

// UnresolvedVersionError means the loaded document carries no usable token.
// Checks stay disabled until the client is reloaded.
type UnresolvedVersionError struct {
	Err error
}

func (e *UnresolvedVersionError) Error() string {
	return fmt.Sprintf("current version unresolved: %v", e.Err)
}

func (e *UnresolvedVersionError) Unwrap() error {
	return e.Err
}

func classifyFetchError(err error) CheckResult {
	var malformed *manifest.MalformedManifestError
	if errors.As(err, &malformed) {
		return ResultMalformed
	}
	return ResultFetchError
}

func isRetryable(err error) bool {
	var fetchErr *fetcher.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.IsRetryable()
	}
	return true
}
