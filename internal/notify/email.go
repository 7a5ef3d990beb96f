package notify

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

const defaultFromName = "Calendrier Clinique"

// ErrInvalidMessage is returned before any provider call when a message
// cannot be delivered as built.
var ErrInvalidMessage = errors.New("notify: invalid message")

// EmailSender delivers one staff notification.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a booking notification ready for a provider. Kind, Center
// and BookingID travel as provider metadata (SendGrid categories and custom
// args, SES message tags).
type EmailMessage struct {
	To        string
	Subject   string
	Body      string
	HTML      string
	Kind      string
	Center    string
	BookingID string
}

func (m EmailMessage) validate() error {
	if _, err := netmail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidMessage)
	}
	if m.Body == "" && m.HTML == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

type tag struct{ name, value string }

// tags returns the tracking metadata sorted by name, empty values dropped.
func (m EmailMessage) tags() []tag {
	var out []tag
	for _, t := range []tag{{"booking_id", m.BookingID}, {"center", m.Center}, {"kind", m.Kind}} {
		if v := tagValue(t.value); v != "" {
			out = append(out, tag{t.name, v})
		}
	}
	return out
}

// tagValue keeps the characters SES accepts in tag values.
func tagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == '.' || r == ' ':
			return '_'
		}
		return -1
	}, v)
}

// Identity is the clinic mailbox notifications come from.
type Identity struct {
	FromEmail string
	FromName  string
	// ReplyTo routes staff replies to the front desk instead of the
	// sending mailbox.
	ReplyTo string
}

func (id Identity) withDefaults() Identity {
	if id.FromName == "" {
		id.FromName = defaultFromName
	}
	return id
}

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	Identity
	APIKey string
	// BaseURL overrides the API host, e.g. for a local mock.
	BaseURL string
}

// SendGridSender delivers notifications through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   Identity
	logger *logging.Logger
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		request := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.BaseURL)
		request.Method = "POST"
		client = &sendgrid.Client{Request: request}
	}
	return &SendGridSender{client: client, from: cfg.Identity.withDefaults(), logger: logger}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	v3 := mail.NewV3Mail()
	v3.SetFrom(mail.NewEmail(s.from.FromName, s.from.FromEmail))
	v3.Subject = msg.Subject
	if s.from.ReplyTo != "" {
		v3.SetReplyTo(mail.NewEmail("", s.from.ReplyTo))
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	for _, t := range msg.tags() {
		p.SetCustomArg(t.name, t.value)
		if t.name == "kind" {
			v3.AddCategories(t.value)
		}
	}
	v3.AddPersonalizations(p)

	// SendGrid requires text/plain ahead of text/html.
	if msg.Body != "" {
		v3.AddContent(mail.NewContent("text/plain", msg.Body))
	}
	if msg.HTML != "" {
		v3.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	resp, err := s.client.SendWithContext(ctx, v3)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected notification", "status", resp.StatusCode, "body", resp.Body, "kind", msg.Kind, "booking_id", msg.BookingID)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("notification sent", "provider", "sendgrid", "kind", msg.Kind, "booking_id", msg.BookingID, "status", resp.StatusCode)
	return nil
}

// StubEmailSender logs notifications instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("notification not sent (stub provider)",
		"to", msg.To,
		"subject", msg.Subject,
		"kind", msg.Kind,
		"center", msg.Center,
		"booking_id", msg.BookingID,
	)
	return nil
}
