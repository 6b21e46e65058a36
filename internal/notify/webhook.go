package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"target":"{{ .Target }}","current_version":"{{ .CurrentVersion }}","manifest":{{ toJson .Manifest }},"detected_at":"{{ .DetectedAt.UTC.Format "2006-01-02T15:04:05Z07:00" }}"}`

// WebhookNotifier sends update events to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	sink     *sink
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no webhook URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string, opts ...Option) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		sink:     newSink(logger, "webhook", webhookURL, opts),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event UpdateEvent) error {
	if n == nil {
		return nil
	}

	event.Target = targetName(event)
	var buf bytes.Buffer
	if err := n.template.Execute(&buf, event); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}
	if err := n.sink.deliver(ctx, event.Target, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("target", event.Target).
		Str("latest_version", event.Manifest.Version).
		Msg("webhook notification sent")

	return nil
}
