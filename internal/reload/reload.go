// Package reload performs the full client reload requested by a monitor.
package reload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultCommandTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	outputLimit           = 2048
)

// CommandError reports a reload command that exited unsuccessfully.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("reload command %q failed: %v (%s)", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("reload command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandReloader runs a shell command to reload the client, for example
// restarting a kiosk browser or purging an edge cache.
type CommandReloader struct {
	logger      zerolog.Logger
	command     string
	shell       string
	timeout     time.Duration
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
}

// Option customizes a CommandReloader.
type Option func(*CommandReloader)

// WithTimeout bounds a single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(r *CommandReloader) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithMaxAttempts sets how many times the command is tried.
func WithMaxAttempts(attempts int) Option {
	return func(r *CommandReloader) {
		if attempts > 0 {
			r.maxAttempts = uint64(attempts)
		}
	}
}

// WithBackOff overrides the wait between attempts.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(r *CommandReloader) {
		if factory != nil {
			r.newBackOff = factory
		}
	}
}

// NewCommandReloader returns a reloader that runs command with sh -c.
func NewCommandReloader(logger zerolog.Logger, command string, opts ...Option) (*CommandReloader, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("reload command is empty")
	}
	r := &CommandReloader{
		logger:      logger,
		command:     command,
		shell:       "sh",
		timeout:     defaultCommandTimeout,
		maxAttempts: defaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Command returns the configured command line.
func (r *CommandReloader) Command() string {
	return r.command
}

// Reload runs the command, retrying failed attempts with exponential backoff.
func (r *CommandReloader) Reload(ctx context.Context) error {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxAttempts-1), ctx)

	err := backoff.Retry(func() error {
		attempt++
		err := r.runOnce(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reload attempt failed")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}, policy)
	if err != nil {
		return err
	}

	r.logger.Info().Str("command", r.command).Int("attempts", attempt).Msg("reload command completed")
	return nil
}

func (r *CommandReloader) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.shell, "-c", r.command)
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return &CommandError{Command: r.command, Output: trimOutput(output.String()), Err: err}
	}
	if text := trimOutput(output.String()); text != "" {
		r.logger.Debug().Str("output", text).Msg("reload command output")
	}
	return nil
}

func trimOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > outputLimit {
		return out[:outputLimit] + "..."
	}
	return out
}

// LogReloader only records the request. It is used when no reload command is
// configured and the reload happens out of band.
type LogReloader struct {
	logger zerolog.Logger
}

// NewLogReloader returns a LogReloader.
func NewLogReloader(logger zerolog.Logger) *LogReloader {
	return &LogReloader{logger: logger}
}

// Reload implements monitor.Reloader.
func (r *LogReloader) Reload(context.Context) error {
	r.logger.Info().Msg("reload requested; no reload command configured")
	return nil
}
