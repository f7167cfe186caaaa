package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"text/template"
	"time"

	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/eventprocessor"
)

// contentTemplate is the template used to generate the webhook content.
const contentTemplate = `
{{ if .Error }}
**Error processing TonConnect event:**

Event ID: {{ .EventID }}
Type: {{ .Type }}
Wallet: {{ .Scope }}
Session: {{ .SessionID }}
Attempts: {{ .Attempt }}
Error: **{{ .Error }}**
{{ else }}
**TonConnect event processed successfully:**

Event ID: {{ .EventID }}
Type: {{ .Type }}
Wallet: {{ .Scope }}
Session: {{ .SessionID }}
Duration: {{ .DurationMs }}ms
{{ end }}
`

var (
	webhookLogger = logger.With().Str("component", "webhook").Logger()
	contentTmpl   = template.Must(template.New("content").Parse(contentTemplate))
)

// Common function to send the webhook request.
func sendWebhookRequest(ctx context.Context, url string, body interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	postData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling webhook JSON: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(postData))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %s", err)
	}

	req.Header.Set("Content-Type", "application/json")
	httpClient := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing webhook: %s", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			webhookLogger.Error().Err(err).Msg("closing")
		}
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status code: %d", resp.StatusCode)
	}

	return nil
}

func content(o eventprocessor.Outcome) (string, error) {
	var c bytes.Buffer
	if err := contentTmpl.Execute(&c, o); err != nil {
		return "", fmt.Errorf("failed to execute template: %v", err)
	}
	return c.String(), nil
}

// Webhook sends event outcomes to services such as Discord.
type Webhook interface {
	Send(ctx context.Context, o eventprocessor.Outcome) error
}

// DiscordWebhook posts outcomes as Discord messages.
type DiscordWebhook struct {
	// URL is the webhook URL.
	URL string
}

// Send formats the outcome as a Discord message and sends it.
func (w *DiscordWebhook) Send(ctx context.Context, o eventprocessor.Outcome) error {
	whContent, err := content(o)
	if err != nil {
		return fmt.Errorf("failed to get webhook content: %v", err)
	}
	// Discord requires the message in the "content" field.
	return sendWebhookRequest(ctx, w.URL, struct {
		Content string `json:"content"`
	}{Content: whContent})
}

// JSONWebhook posts outcomes as JSON documents.
type JSONWebhook struct {
	URL string
}

// Send posts the outcome.
func (w *JSONWebhook) Send(ctx context.Context, o eventprocessor.Outcome) error {
	return sendWebhookRequest(ctx, w.URL, o)
}

// NewWebhook creates the webhook that fits the url.
func NewWebhook(urlStr string) (Webhook, error) {
	urlObject, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %s", err)
	}

	switch {
	case urlObject.Hostname() == "discord.com":
		return &DiscordWebhook{URL: urlObject.String()}, nil
	case urlObject.Scheme == "http" || urlObject.Scheme == "https":
		return &JSONWebhook{URL: urlObject.String()}, nil
	default:
		return nil, fmt.Errorf("invalid webhook url")
	}
}
