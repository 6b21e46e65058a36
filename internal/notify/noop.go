package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopNotifier stands in when no channel is configured. Events are only
// logged at debug level, with the reason the channel is off.
type NoopNotifier struct {
	logger zerolog.Logger
	reason string
}

// NewNoop logs reason once at info level and returns the notifier.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger, reason: reason}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, event UpdateEvent) error {
	n.logger.Debug().
		Str("target", targetName(event)).
		Str("latest_version", event.Manifest.Version).
		Str("reason", n.reason).
		Msg("update not forwarded")
	return nil
}
