package email

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/dinnerconnect/notifier/internal/domain"
)

var ErrUnknownTemplate = errors.New("unknown email template")

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("").Option("missingkey=error").ParseFS(templateFS, "templates/*.html"),
)

// genericTemplates are the templates a TemplatedEmail may name.
var genericTemplates = map[string]bool{
	"otp":             true,
	"welcome":         true,
	"dinner_reminder": true,
}

// Sender turns decoded notifications into emails. It implements domain.Handler.
type Sender struct {
	mailer Mailer
	from   string
}

func NewSender(mailer Mailer, from string) *Sender {
	return &Sender{mailer: mailer, from: from}
}

func (s *Sender) HandleEmail(ctx context.Context, m domain.TemplatedEmail) error {
	name := strings.TrimSuffix(m.Template, ".html")
	if !genericTemplates[name] {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, m.Template)
	}
	return s.send(ctx, m.To, m.Subject, name, m.Data)
}

func (s *Sender) HandleVenueUpdate(ctx context.Context, m domain.VenueUpdate) error {
	return s.send(ctx, m.ToEmail, fmt.Sprintf("Your DinnerConnect venue for %s", m.Date), "venue_update", m)
}

func (s *Sender) HandleDinnerUpdate(ctx context.Context, m domain.DinnerUpdate) error {
	return s.send(ctx, m.ToEmail, fmt.Sprintf("You've been matched for dinner in %s", m.City), "dinner_match", m)
}

func (s *Sender) HandleSubscriptionEmail(ctx context.Context, m domain.SubscriptionEmail) error {
	data := struct {
		Status string
		Active bool
	}{m.Status, strings.EqualFold(m.Status, "active")}
	return s.send(ctx, m.ToEmail, fmt.Sprintf("Your DinnerConnect subscription is %s", m.Status), "subscription", data)
}

func (s *Sender) send(ctx context.Context, to, subject, name string, data any) error {
	msg, err := s.compose(to, subject, name, data)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", name, to, err)
	}
	return nil
}

func (s *Sender) compose(to, subject, name string, data any) (*mail.Msg, error) {
	tpl := templates.Lookup(name + ".html")
	if tpl == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	msg := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", s.from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	if err := msg.SetBodyHTMLTemplate(tpl, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return msg, nil
}

var _ domain.Handler = (*Sender)(nil)
