// Package slack sends messages and failure alerts to a Slack incoming
// webhook. A Webhook satisfies the trigger.AlertSink contract, so it can be
// plugged directly into the retry-timeout guard.
package slack

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
	"github.com/stackbound/gcpkit/pkg/logger"
)

// Slack rejects section text over 3000 characters; leave room for the
// truncation marker.
const maxAttachmentText = 3000 - 35

const defaultRequestTimeout = 10 * time.Second

// Webhook posts messages to a single Slack incoming webhook URL in the
// standard form https://hooks.slack.com/services/{app_id}/{channel_id}/{hash}.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Webhook) { w.httpClient = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a webhook client for the given URL.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: defaultRequestTimeout,
				MaxIdleConnsPerHost:   2,
			},
		},
		logger: logger.Get().With(zap.String("component", "slack_webhook")),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// message is the webhook payload: a title block plus one colored attachment.
type message struct {
	Blocks      []block      `json:"blocks"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Color  string  `json:"color"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Type string     `json:"type"`
	Text *blockText `json:"text,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwnBlock(text string) block {
	return block{
		Type: "section",
		Text: &blockText{Type: "mrkdwn", Text: text},
	}
}

// truncate cuts text to the attachment limit on a rune boundary, so a
// multi-byte character is never split into invalid UTF-8.
func truncate(text string) string {
	if len(text) <= maxAttachmentText {
		return text
	}
	cut := maxAttachmentText
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n..."
}

// Send posts a message with a title and a single attachment body. Title and
// text may contain Slack-compatible markdown. An empty color defaults to
// black.
func (w *Webhook) Send(ctx context.Context, title, text, color string) error {
	if text == "" {
		return gcperrors.New(gcperrors.ErrorTypeValidation, "message text must not be empty")
	}
	return w.SendBlocks(ctx, title, []string{text}, color)
}

// SendBlocks posts a message with a title and one attachment section per
// entry in blocks. Each section is truncated to Slack's text limit.
func (w *Webhook) SendBlocks(ctx context.Context, title string, blocks []string, color string) error {
	if len(blocks) == 0 {
		return gcperrors.New(gcperrors.ErrorTypeValidation, "at least one block must be passed")
	}
	if color == "" {
		color = "#000000"
	}

	att := attachment{Color: color, Blocks: make([]block, 0, len(blocks))}
	for _, b := range blocks {
		att.Blocks = append(att.Blocks, mrkdwnBlock(truncate(b)))
	}
	msg := message{
		Blocks:      []block{mrkdwnBlock(title)},
		Attachments: []attachment{att},
	}

	return w.post(ctx, &msg)
}

// SendAlert delivers a formatted failure notification. It is the
// trigger.AlertSink contract: (title, body, color) in, a single delivery out.
func (w *Webhook) SendAlert(ctx context.Context, title, body, color string) error {
	return w.Send(ctx, title, body, color)
}

func (w *Webhook) post(ctx context.Context, msg *message) error {
	payload, err := jsonutil.Marshal(msg)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to marshal slack message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to post to slack webhook")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gcperrors.Newf(gcperrors.ErrorTypeConnection,
			"slack webhook returned status %d", resp.StatusCode)
	}

	w.logger.Info("slack message sent", zap.Int("status", resp.StatusCode))
	return nil
}
