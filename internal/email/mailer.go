// Package email renders notification templates and delivers them over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer transmits a fully built message.
type Mailer interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPConfig describes the relay. TLS is one of "ssl" (implicit TLS),
// "starttls" (mandatory STARTTLS), "opportunistic" or "none".
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string
	Timeout  time.Duration
}

// SMTPMailer opens a fresh connection for every message and closes it after.
type SMTPMailer struct {
	client *mail.Client
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	opts = append(opts, tlsOptions(cfg.TLS)...)

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	return &SMTPMailer{client: c}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg *mail.Msg) error {
	return m.client.DialAndSendWithContext(ctx, msg)
}

// tlsOptions converts the SMTP_TLS setting to go-mail options.
func tlsOptions(mode string) []mail.Option {
	switch mode {
	case "ssl":
		return []mail.Option{mail.WithSSL()}
	case "opportunistic":
		return []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	case "none":
		return []mail.Option{mail.WithTLSPolicy(mail.NoTLS)}
	default:
		return []mail.Option{mail.WithTLSPolicy(mail.TLSMandatory)}
	}
}
