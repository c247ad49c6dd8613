package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/sglre6355/notion-notify/internal/domain"
)

const webhookOp = "post webhook"

// WebhookConfig describes the chat webhook that receives new-post messages.
type WebhookConfig struct {
	URL       string
	Username  string
	AvatarURL string
}

// WebhookNotifier posts a message to a Discord-compatible webhook for each new item.
type WebhookNotifier struct {
	session *discordgo.Session
	cfg     WebhookConfig
}

// NewWebhookNotifier wires a Discord session to the configured webhook. The
// session needs no bot token; the webhook URL carries its own credentials.
func NewWebhookNotifier(session *discordgo.Session, cfg WebhookConfig) (*WebhookNotifier, error) {
	if session == nil {
		return nil, fmt.Errorf("discord session cannot be nil")
	}

	parsed, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &domain.ConfigError{Field: "webhook url", Err: fmt.Errorf("%q is not an http(s) url", cfg.URL)}
	}
	cfg.URL = parsed.String()

	return &WebhookNotifier{session: session, cfg: cfg}, nil
}

// Message builds the webhook payload announcing item.
func (n *WebhookNotifier) Message(item domain.Item) *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content:   "New post: " + item.URL,
		Username:  n.cfg.Username,
		AvatarURL: n.cfg.AvatarURL,
	}
}

// Notify posts the announcement for item.
func (n *WebhookNotifier) Notify(ctx context.Context, item domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.request(ctx, webhookOp, http.MethodPost, n.Message(item)); err != nil {
		return err
	}

	return nil
}

// Probe fetches the webhook's own description, confirming the URL is live.
func (n *WebhookNotifier) Probe(ctx context.Context) (*discordgo.Webhook, error) {
	body, err := n.request(ctx, "probe webhook", http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	var webhook discordgo.Webhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		return nil, &domain.DecodeError{Op: "probe webhook", Err: err}
	}

	return &webhook, nil
}

// request sends exactly one HTTP request. discordgo's own retries on 502 and
// 429 are disabled: a retried POST can repeat a message the webhook already
// accepted, and retry policy belongs to the poller's failure budget.
func (n *WebhookNotifier) request(ctx context.Context, op, method string, data any) ([]byte, error) {
	client := *n.session.Client
	recorder := &statusRecorder{next: client.Transport}
	if recorder.next == nil {
		recorder.next = http.DefaultTransport
	}
	client.Transport = recorder

	body, err := n.session.RequestWithBucketID(
		method,
		n.cfg.URL,
		data,
		n.bucket(),
		discordgo.WithContext(ctx),
		discordgo.WithClient(&client),
		discordgo.WithRestRetries(0),
		discordgo.WithRetryOnRatelimit(false),
	)
	if err != nil {
		return nil, restError(op, err, recorder.status)
	}

	return body, nil
}

// bucket keys Discord's rate limiter on the webhook route, ignoring query parameters.
func (n *WebhookNotifier) bucket() string {
	parsed, err := url.Parse(n.cfg.URL)
	if err != nil {
		return n.cfg.URL
	}
	return parsed.Host + parsed.Path
}

// restError converts a discordgo failure into a TransportError. status is
// the last HTTP status seen on the wire, used when discordgo reports a 502 or
// 429 without a RESTError.
func restError(op string, err error, status int) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		transportErr := &domain.TransportError{Op: op, StatusCode: restErr.Response.StatusCode}
		if restErr.Message != nil {
			transportErr.Message = restErr.Message.Message
		}
		return transportErr
	}

	transportErr := &domain.TransportError{Op: op, Err: err}
	if status < 200 || status >= 300 {
		transportErr.StatusCode = status
	}
	return transportErr
}

// statusRecorder remembers the status code of the response passing through it.
type statusRecorder struct {
	next   http.RoundTripper
	status int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if resp != nil {
		r.status = resp.StatusCode
	}
	return resp, err
}
