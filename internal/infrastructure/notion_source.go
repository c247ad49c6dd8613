package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sglre6355/notion-notify/internal/domain"
)

const (
	// DefaultNotionBaseURL is the public Notion API endpoint.
	DefaultNotionBaseURL = "https://api.notion.com"
	// DefaultNotionVersion is the API version sent when none is configured.
	DefaultNotionVersion = "2022-06-28"

	notionVersionHeader = "Notion-Version"
	queryOp             = "query database"
	maxErrorBody        = 64 << 10
)

// NotionConfig identifies the database to poll and how to authenticate.
type NotionConfig struct {
	Secret     string
	DatabaseID string
	Version    string
	BaseURL    string
}

// NotionSource queries a Notion database and returns its first page of results.
type NotionSource struct {
	endpoint string
	secret   string
	version  string
	client   *http.Client
	logger   *slog.Logger
}

// NotionSourceOption configures optional NotionSource behaviour.
type NotionSourceOption func(*NotionSource)

// WithHTTPClient replaces the HTTP client used for queries.
func WithHTTPClient(client *http.Client) NotionSourceOption {
	return func(s *NotionSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSourceLogger overrides the logger used for query warnings.
func WithSourceLogger(logger *slog.Logger) NotionSourceOption {
	return func(s *NotionSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewNotionSource validates cfg and returns a source bound to its database.
func NewNotionSource(cfg NotionConfig, opts ...NotionSourceOption) (*NotionSource, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, &domain.ConfigError{Field: "notion secret", Err: errors.New("cannot be empty")}
	}
	if strings.TrimSpace(cfg.DatabaseID) == "" {
		return nil, &domain.ConfigError{Field: "notion database id", Err: errors.New("cannot be empty")}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultNotionBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, &domain.ConfigError{Field: "notion base url", Err: err}
	}

	version := cfg.Version
	if version == "" {
		version = DefaultNotionVersion
	}

	source := &NotionSource{
		endpoint: strings.TrimRight(baseURL, "/") +
			"/v1/databases/" + url.PathEscape(cfg.DatabaseID) + "/query",
		secret:  cfg.Secret,
		version: version,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(source)
	}

	return source, nil
}

type queryResponse struct {
	Results *[]page `json:"results"`
	HasMore bool    `json:"has_more"`
}

type page struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	LastEditedTime *time.Time `json:"last_edited_time"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fetch runs an unfiltered query and returns the first page of records.
func (s *NotionSource) Fetch(ctx context.Context) (domain.ResultSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, &domain.TransportError{Op: queryOp, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.secret)
	req.Header.Set(notionVersionHeader, s.version)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: queryOp, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.DecodeError{Op: queryOp, Err: err}
	}
	if body.Results == nil {
		return nil, &domain.DecodeError{Op: queryOp, Err: errors.New(`missing "results" field`)}
	}

	if body.HasMore {
		s.logger.WarnContext(
			ctx,
			"database has more than one page of results, only the first page is considered",
			slog.Int("page_size", len(*body.Results)),
		)
	}

	items := make(domain.ResultSet, 0, len(*body.Results))
	for _, p := range *body.Results {
		items = append(items, domain.Item{
			ID:             p.ID,
			URL:            p.URL,
			LastEditedTime: p.LastEditedTime,
		})
	}

	return items, nil
}

func statusError(resp *http.Response) error {
	transportErr := &domain.TransportError{Op: queryOp, StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		transportErr.Err = fmt.Errorf("read error body: %w", err)
		return transportErr
	}

	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil {
		transportErr.Code = apiErr.Code
		transportErr.Message = apiErr.Message
	}

	return transportErr
}
