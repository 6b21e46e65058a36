package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs update events without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery to inner and
// logs which channels it would have used instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, event UpdateEvent) error {
	n.logger.Info().
		Str("target", targetName(event)).
		Str("current_version", event.CurrentVersion).
		Str("latest_version", event.Manifest.Version).
		Str("build_time", event.Manifest.BuildTime).
		Strs("channels", channels(n.inner)).
		Msg("[DRY-RUN] Would notify")
	return nil
}

// channels names the delivery channels behind n.
func channels(n Notifier) []string {
	switch v := n.(type) {
	case nil, *NoopNotifier:
		return []string{}
	case *SlackNotifier:
		return []string{"slack"}
	case *WebhookNotifier:
		return []string{"webhook"}
	case *MultiNotifier:
		names := []string{}
		for _, inner := range v.notifiers {
			names = append(names, channels(inner)...)
		}
		return names
	default:
		return []string{fmt.Sprintf("%T", v)}
	}
}
