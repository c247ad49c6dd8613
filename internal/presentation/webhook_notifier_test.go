package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sglre6355/notion-notify/internal/domain"
)

func newTestWebhook(t *testing.T, handler http.HandlerFunc, cfg WebhookConfig) *WebhookNotifier {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	session, err := discordgo.New("")
	require.NoError(t, err)
	session.Client = srv.Client()

	cfg.URL = srv.URL + "/api/webhooks/123/token"
	notifier, err := NewWebhookNotifier(session, cfg)
	require.NoError(t, err)

	return notifier
}

func TestWebhookNotifyPostsMessage(t *testing.T) {
	var requests int
	var method, path string
	var payload map[string]any

	notifier := newTestWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		method = r.Method
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}, WebhookConfig{Username: "Notion Notify", AvatarURL: "https://cdn.example.com/a.png"})

	err := notifier.Notify(context.Background(), domain.Item{ID: "2", URL: "http://x/2"})
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/webhooks/123/token", path)
	assert.Equal(t, "New post: http://x/2", payload["content"])
	assert.Equal(t, "Notion Notify", payload["username"])
	assert.Equal(t, "https://cdn.example.com/a.png", payload["avatar_url"])
}

func TestWebhookNotifyOmitsUnsetOverrides(t *testing.T) {
	var payload map[string]any
	notifier := newTestWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}, WebhookConfig{})

	require.NoError(t, notifier.Notify(context.Background(), domain.Item{ID: "1", URL: "http://x/1"}))
	assert.NotContains(t, payload, "username")
	assert.NotContains(t, payload, "avatar_url")
}

func TestWebhookNotifyServerError(t *testing.T) {
	notifier := newTestWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"internal","code":0}`))
	}, WebhookConfig{})

	err := notifier.Notify(context.Background(), domain.Item{ID: "2", URL: "http://x/2"})
	require.Error(t, err)

	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
}

func TestWebhookProbe(t *testing.T) {
	notifier := newTestWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"123","type":1,"name":"releases","channel_id":"987","guild_id":"555","token":"token"}`))
	}, WebhookConfig{})

	webhook, err := notifier.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123", webhook.ID)
	assert.Equal(t, "releases", webhook.Name)
	assert.Equal(t, "987", webhook.ChannelID)
}

func TestWebhookProbeNotFound(t *testing.T) {
	notifier := newTestWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Webhook","code":10015}`))
	}, WebhookConfig{})

	_, err := notifier.Probe(context.Background())
	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
	assert.Equal(t, "Unknown Webhook", transportErr.Message)
}

func TestNewWebhookNotifierValidation(t *testing.T) {
	session, err := discordgo.New("")
	require.NoError(t, err)

	_, err = NewWebhookNotifier(nil, WebhookConfig{URL: "https://discord.com/api/webhooks/1/t"})
	assert.Error(t, err)

	for _, raw := range []string{"", "discord.com/api/webhooks/1/t", "ftp://example.com/hook", "https://"} {
		_, err := NewWebhookNotifier(session, WebhookConfig{URL: raw})
		var cfgErr *domain.ConfigError
		assert.True(t, errors.As(err, &cfgErr), "url %q", raw)
	}
}

func TestWebhookNotifySendsOnceOnBadGateway(t *testing.T) {
	var posts int
	notifier := newTestWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
		posts++
		w.WriteHeader(http.StatusBadGateway)
	}, WebhookConfig{})

	err := notifier.Notify(context.Background(), domain.Item{ID: "2", URL: "http://x/2"})
	require.Error(t, err)
	assert.Equal(t, 1, posts)

	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
}

func TestWebhookNotifyDoesNotRetryRateLimit(t *testing.T) {
	var posts int
	notifier := newTestWebhook(t, func(w http.ResponseWriter, _ *http.Request) {
		posts++
		if posts == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.01,"global":false}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, WebhookConfig{})

	err := notifier.Notify(context.Background(), domain.Item{ID: "2", URL: "http://x/2"})
	require.Error(t, err)
	assert.Equal(t, 1, posts)

	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusTooManyRequests, transportErr.StatusCode)
}
