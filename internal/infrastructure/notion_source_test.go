package infrastructure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sglre6355/notion-notify/internal/domain"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *NotionSource {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	source, err := NewNotionSource(NotionConfig{
		Secret:     "secret_abc",
		DatabaseID: "db123",
		BaseURL:    srv.URL,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return source
}

func TestFetchSendsQuery(t *testing.T) {
	var gotPath, gotMethod, gotBody string
	var gotHeader http.Header

	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","results":[],"has_more":false}`))
	})

	items, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/databases/db123/query", gotPath)
	assert.Equal(t, "{}", gotBody)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Bearer secret_abc", gotHeader.Get("Authorization"))
	assert.Equal(t, DefaultNotionVersion, gotHeader.Get("Notion-Version"))
}

func TestFetchDecodesResultsInOrder(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"results": [
				{"object":"page","id":"b","url":"https://www.notion.so/b","last_edited_time":"2024-03-01T10:00:00.000Z"},
				{"object":"page","id":"a","url":"https://www.notion.so/a"}
			],
			"has_more": false
		}`))
	})

	items, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "https://www.notion.so/b", items[0].URL)
	require.NotNil(t, items[0].LastEditedTime)
	assert.True(t, items[0].LastEditedTime.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	assert.Equal(t, "a", items[1].ID)
	assert.Nil(t, items[1].LastEditedTime)
}

func TestFetchUsesFirstPageOnly(t *testing.T) {
	calls := 0
	source := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"results":[{"id":"1","url":"u1"}],"has_more":true,"next_cursor":"c2"}`))
	})

	items, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSet{{ID: "1", URL: "u1"}}, items)
	assert.Equal(t, 1, calls)
}

func TestFetchStatusError(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"object":"error","status":401,"code":"unauthorized","message":"API token is invalid."}`))
	})

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)
	assert.Equal(t, "unauthorized", transportErr.Code)
	assert.Equal(t, "API token is invalid.", transportErr.Message)
}

func TestFetchDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json":    `{"results": [`,
		"missing results": `{"object":"list"}`,
		"wrong shape":     `{"results": {"id": "1"}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			source := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := source.Fetch(context.Background())
			var decodeErr *domain.DecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	source, err := NewNotionSource(NotionConfig{Secret: "s", DatabaseID: "d", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background())
	var transportErr *domain.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Zero(t, transportErr.StatusCode)
}

func TestNewNotionSourceValidation(t *testing.T) {
	_, err := NewNotionSource(NotionConfig{DatabaseID: "d"})
	var cfgErr *domain.ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewNotionSource(NotionConfig{Secret: "s"})
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewNotionSource(NotionConfig{Secret: "s", DatabaseID: "d", BaseURL: "not a url"})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewNotionSourceCustomVersion(t *testing.T) {
	var version string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version = r.Header.Get("Notion-Version")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	source, err := NewNotionSource(NotionConfig{
		Secret:     "s",
		DatabaseID: "d",
		BaseURL:    srv.URL + "/",
		Version:    "2025-09-03",
	})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-09-03", version)
}
