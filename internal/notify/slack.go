package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts update events to a Slack incoming webhook as Block Kit
// messages.
type SlackNotifier struct {
	logger zerolog.Logger
	sink   *sink
}

// NewSlackNotifier creates a Slack notifier, or a noop notifier when the
// webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...Option) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}
	return &SlackNotifier{
		logger: logger,
		sink:   newSink(logger, "slack", webhookURL, opts),
	}
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event UpdateEvent) error {
	target := targetName(event)
	payload, err := json.Marshal(buildSlackMessage(event))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := n.sink.deliver(ctx, target, payload); err != nil {
		return err
	}

	n.logger.Debug().
		Str("target", target).
		Str("latest_version", event.Manifest.Version).
		Msg("slack notification sent")
	return nil
}

func buildSlackMessage(event UpdateEvent) slack.WebhookMessage {
	target := targetName(event)
	summary := fmt.Sprintf("New version of %s available: %s", target, event.Manifest.Version)

	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Target: *%s*", target), false, false),
	)

	current := event.CurrentVersion
	if current == "" {
		current = "unknown"
	}
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Loaded:*\n`%s`", current), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Deployed:*\n`%s`", event.Manifest.Version), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Built:*\n%s", buildTimeLabel(event.Manifest)), false, false),
	}
	if event.Manifest.BuildNumber != 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Build:*\n%d", event.Manifest.BuildNumber), false, false))
	}
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", "Refresh the client to load the latest build.", false, false),
		fields,
		nil,
	)

	blockSet := slack.Blocks{BlockSet: []slack.Block{header, contextBlock, section}}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}
