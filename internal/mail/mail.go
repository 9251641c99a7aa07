package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"dailydigest/internal/config"
	appLog "dailydigest/internal/log"
)

// MailError is any failure to build or deliver the digest email. It is
// fatal for the run.
type MailError struct {
	Op  string // "validate", "build", "send"
	Err error
}

func (e *MailError) Error() string {
	return fmt.Sprintf("mail %s: %v", e.Op, e.Err)
}

func (e *MailError) Unwrap() error {
	return e.Err
}

// Message is one outbound email. Text is sent as the plain part and HTML as
// the preferred alternative.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

func (m Message) Validate() error {
	var problems []string
	if _, err := netmail.ParseAddress(m.From); err != nil {
		problems = append(problems, fmt.Sprintf("invalid sender %q", m.From))
	}
	if len(m.To) == 0 {
		problems = append(problems, "no recipients")
	}
	for _, to := range m.To {
		if _, err := netmail.ParseAddress(to); err != nil {
			problems = append(problems, fmt.Sprintf("invalid recipient %q", to))
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		problems = append(problems, "empty subject")
	}
	if strings.TrimSpace(m.HTML) == "" {
		problems = append(problems, "empty body")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers through one SMTP server. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
type SMTPSender struct {
	dialer dialer
	server string
	now    func() time.Time
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password),
		server: cfg.Server,
		now:    time.Now,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return &MailError{Op: "validate", Err: err}
	}
	m, err := s.build(msg)
	if err != nil {
		return &MailError{Op: "build", Err: err}
	}
	// gomail has no context support; honor cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return &MailError{Op: "send", Err: err}
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return &MailError{Op: "send", Err: err}
	}
	appLog.Info("digest email sent", "server", s.server, "recipients", len(msg.To), "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) build(msg Message) (*gomail.Message, error) {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	if from.Name != "" {
		m.SetAddressHeader("From", from.Address, from.Name)
	} else {
		m.SetHeader("From", from.Address)
	}
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID(from.Address))
	m.SetDateHeader("Date", s.now())
	m.SetHeader("X-Mailer", "dailydigest")

	text := msg.Text
	if strings.TrimSpace(text) == "" {
		text = msg.Subject + "\n"
	}
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", msg.HTML)
	return m, nil
}

func messageID(from string) string {
	host := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		host = from[i+1:]
	} else if h, err := os.Hostname(); err == nil && h != "" {
		host = h
	}
	return "<" + uuid.NewString() + "@" + host + ">"
}
