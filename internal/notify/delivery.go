package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/freshness-sentinel/internal/fetcher"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

// DeliveryPolicy bounds how an update event is pushed to an HTTP sink.
type DeliveryPolicy struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// One event per target every RateInterval, with bursts of RateBurst.
	RateInterval time.Duration
	RateBurst    int
	// Exponential backoff between attempts that failed temporarily.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
}

// DefaultDeliveryPolicy returns the policy used when none is given.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		Timeout:        10 * time.Second,
		RateInterval:   time.Second,
		RateBurst:      1,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		MaxElapsed:     30 * time.Second,
	}
}

// Option customizes an HTTP sink notifier.
type Option func(*DeliveryPolicy)

// WithDeliveryPolicy replaces the delivery policy.
func WithDeliveryPolicy(policy DeliveryPolicy) Option {
	return func(p *DeliveryPolicy) {
		*p = policy
	}
}

// DeliveryError reports a failed attempt to reach a sink.
type DeliveryError struct {
	Sink       string
	StatusCode int
	Body       string
	// RetryAfter is the wait the sink asked for, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s request failed: %v", e.Sink, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s request failed: %d %s (%s)", e.Sink, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	default:
		return fmt.Sprintf("%s request failed: %d %s", e.Sink, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Temporary reports whether another attempt may succeed: transport failures,
// 429 and 5xx.
func (e *DeliveryError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// sink posts encoded events to one HTTP endpoint.
type sink struct {
	logger      zerolog.Logger
	name        string
	url         string
	contentType string
	policy      DeliveryPolicy
	client      *retryablehttp.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSink(logger zerolog.Logger, name, url string, opts []Option) *sink {
	policy := DefaultDeliveryPolicy()
	for _, opt := range opts {
		opt(&policy)
	}
	return &sink{
		logger:      logger.With().Str("sink", name).Logger(),
		name:        name,
		url:         url,
		contentType: "application/json",
		policy:      policy,
		client:      fetcher.NewClient(policy.Timeout),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// deliver waits for the target's rate limit and then posts payload, retrying
// temporary failures until the policy or ctx gives up.
func (s *sink) deliver(ctx context.Context, target string, payload []byte) error {
	if err := s.limiter(target).Wait(ctx); err != nil {
		return err
	}

	schedule := &retryAfterBackOff{next: s.newBackOff()}
	attempt := 0
	operation := func() error {
		attempt++
		err := s.post(ctx, payload)
		if err == nil {
			return nil
		}
		var delivery *DeliveryError
		if !errors.As(err, &delivery) || !delivery.Temporary() {
			return backoff.Permanent(err)
		}
		schedule.retryAfter = delivery.RetryAfter
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		s.logger.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("notification not delivered; retrying")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(schedule, ctx), onRetry)
}

func (s *sink) limiter(target string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[target]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.policy.RateInterval), s.policy.RateBurst)
		s.limiters[target] = limiter
	}
	return limiter
}

func (s *sink) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.policy.InitialBackoff
	exp.MaxInterval = s.policy.MaxBackoff
	exp.MaxElapsedTime = s.policy.MaxElapsed
	exp.Reset()
	return exp
}

// post makes a single attempt.
func (s *sink) post(ctx context.Context, payload []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(attemptCtx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", s.contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Sink: s.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	failure := &DeliveryError{
		Sink:       s.name,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		failure.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return failure
}

// retryAfterBackOff waits as long as the sink asked once, then falls back to
// the exponential schedule.
type retryAfterBackOff struct {
	next       backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if wait := b.retryAfter; wait > 0 {
		b.retryAfter = 0
		return wait
	}
	return b.next.NextBackOff()
}

func (b *retryAfterBackOff) Reset() {
	b.retryAfter = 0
	b.next.Reset()
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means absent.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil && when.After(now) {
		return when.Sub(now)
	}
	return 0
}
