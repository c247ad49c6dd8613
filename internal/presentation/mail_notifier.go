package presentation

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/sglre6355/notion-notify/internal/domain"
)

// MailSubject is the fixed subject line of every notification email.
const MailSubject = "New post"

// MailConfig describes the SMTP submission endpoint and the message envelope.
type MailConfig struct {
	To           string
	From         string
	Domain       string
	Port         int
	User         string
	Pass         string
	TemplatePath string
}

// Validate reports the first missing or malformed field.
func (c MailConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"MAIL_TO", c.To},
		{"MAIL_FROM", c.From},
		{"MAIL_DOMAIN", c.Domain},
		{"MAIL_USER", c.User},
		{"MAIL_PASS", c.Pass},
		{"MAIL_TEMPLATE", c.TemplatePath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &domain.ConfigError{Field: r.field, Err: errors.New("required when email is enabled")}
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &domain.ConfigError{Field: "MAIL_PORT", Err: fmt.Errorf("%d is not a valid port", c.Port)}
	}
	return nil
}

// MailSender submits fully built messages. *mail.Client satisfies it.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// MailNotifier emails a rendered HTML announcement for each new item.
type MailNotifier struct {
	cfg    MailConfig
	sender MailSender
}

// templateData is exposed to the email template as its root value.
type templateData struct {
	URL string
}

// NewSMTPSender builds a go-mail client that authenticates with PLAIN auth
// and requires TLS.
func NewSMTPSender(cfg MailConfig) (*mail.Client, error) {
	client, err := mail.NewClient(
		cfg.Domain,
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Pass),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

// NewMailNotifier validates cfg and returns a notifier that sends through sender.
func NewMailNotifier(cfg MailConfig, sender MailSender) (*MailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender cannot be nil")
	}
	return &MailNotifier{cfg: cfg, sender: sender}, nil
}

// Message renders the template from disk and builds the email for item. The
// template is read on every call so edits take effect without a restart.
func (n *MailNotifier) Message(item domain.Item) (*mail.Msg, error) {
	raw, err := os.ReadFile(n.cfg.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	tpl, err := template.New(filepath.Base(n.cfg.TemplatePath)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(n.cfg.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(MailSubject)

	if err := msg.SetBodyHTMLTemplate(tpl, templateData{URL: item.URL}); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return msg, nil
}

// Notify renders and sends the email for item.
func (n *MailNotifier) Notify(ctx context.Context, item domain.Item) error {
	msg, err := n.Message(item)
	if err != nil {
		return err
	}

	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return &domain.TransportError{Op: "send email", Err: err}
	}

	return nil
}
