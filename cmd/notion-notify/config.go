package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sglre6355/notion-notify/internal/domain"
	"github.com/sglre6355/notion-notify/internal/presentation"
)

type config struct {
	NotionSecret     string `env:"NOTION_SECRET,required"`
	NotionDatabaseID string `env:"NOTION_DATABASE_ID,required"`
	NotionVersion    string `env:"NOTION_VERSION"          envDefault:"2022-06-28"`
	NotionBaseURL    string `env:"NOTION_BASE_URL"         envDefault:"https://api.notion.com"`

	WebhookURL       string `env:"WEBHOOK_URL,required"`
	WebhookUsername  string `env:"WEBHOOK_USERNAME"`
	WebhookAvatarURL string `env:"WEBHOOK_AVATAR_URL"`
	WebhookProbe     bool   `env:"WEBHOOK_PROBE"           envDefault:"true"`

	Mail mailConfig `envPrefix:"MAIL_"`

	JournalDatabaseURL string `env:"JOURNAL_DATABASE_URL"`

	PollIntervalSeconds int           `env:"POLL_INTERVAL_SECONDS" envDefault:"60"`
	FailureBudget       uint32        `env:"FAILURE_BUDGET"        envDefault:"1"`
	NotifyRatePerSec    float64       `env:"NOTIFY_RATE_PER_SEC"   envDefault:"0"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"       envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

type mailConfig struct {
	To       string `env:"TO"`
	From     string `env:"FROM"`
	Domain   string `env:"DOMAIN"`
	Port     int    `env:"PORT"     envDefault:"587"`
	User     string `env:"USER"`
	Pass     string `env:"PASS"`
	Template string `env:"TEMPLATE" envDefault:"templates/email.html"`
}

// loadConfig reads configuration from environ, or from the process
// environment when environ is nil.
func loadConfig(environ map[string]string) (config, error) {
	cfg, err := env.ParseAsWithOptions[config](env.Options{Environment: environ})
	if err != nil {
		return config{}, &domain.ConfigError{Err: err}
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func (c config) validate() error {
	if c.PollIntervalSeconds <= 0 {
		return &domain.ConfigError{Field: "POLL_INTERVAL_SECONDS", Err: errors.New("must be positive")}
	}
	if c.FailureBudget == 0 {
		return &domain.ConfigError{Field: "FAILURE_BUDGET", Err: errors.New("must be at least 1")}
	}
	if c.NotifyRatePerSec < 0 {
		return &domain.ConfigError{Field: "NOTIFY_RATE_PER_SEC", Err: errors.New("cannot be negative")}
	}
	if c.RequestTimeout <= 0 {
		return &domain.ConfigError{Field: "REQUEST_TIMEOUT", Err: errors.New("must be positive")}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &domain.ConfigError{Field: "LOG_LEVEL", Err: err}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return &domain.ConfigError{Field: "LOG_FORMAT", Err: fmt.Errorf("unknown format %q", c.LogFormat)}
	}
	if c.mailEnabled() {
		if err := c.mailSettings().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c config) mailEnabled() bool {
	return strings.TrimSpace(c.Mail.To) != ""
}

func (c config) mailSettings() presentation.MailConfig {
	return presentation.MailConfig{
		To:           c.Mail.To,
		From:         c.Mail.From,
		Domain:       c.Mail.Domain,
		Port:         c.Mail.Port,
		User:         c.Mail.User,
		Pass:         c.Mail.Pass,
		TemplatePath: c.Mail.Template,
	}
}

func (c config) webhookSettings() presentation.WebhookConfig {
	return presentation.WebhookConfig{
		URL:       c.WebhookURL,
		Username:  c.WebhookUsername,
		AvatarURL: c.WebhookAvatarURL,
	}
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, err
	}
	return level, nil
}
