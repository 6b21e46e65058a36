package stamper

import "fmt"

// WriteError means the manifest could not be persisted. It fails the build.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write manifest %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// StampError means the entry document could not be annotated. The build artifacts
// remain usable, so callers log it instead of failing.
type StampError struct {
	Path   string
	Reason string
	Err    error
}

func (e *StampError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stamp %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("stamp %s: %s", e.Path, e.Reason)
}

func (e *StampError) Unwrap() error {
	return e.Err
}
