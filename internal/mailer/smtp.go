package mailer

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

// Message is one rendered email addressed to a single recipient.
type Message struct {
	FromEmail string
	FromName  string
	ToEmail   string
	ToName    string
	Subject   string
	HTMLBody  string
	ReplyTo   string
}

// Transmitter performs one SMTP delivery attempt. Implementations must treat
// every protocol, negotiation and auth problem uniformly as a returned error
// with a human-readable message; there are no partial sends.
type Transmitter interface {
	Send(ctx context.Context, cfg domain.SMTPConfig, msg Message) error
}

// SMTPTransmitter delivers through the SMTP relay described by the dispatch's
// config: STARTTLS when use_tls is set, implicit TLS otherwise.
type SMTPTransmitter struct {
	timeout time.Duration
}

func NewSMTPTransmitter(timeout time.Duration) *SMTPTransmitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPTransmitter{timeout: timeout}
}

func (t *SMTPTransmitter) Send(ctx context.Context, cfg domain.SMTPConfig, msg Message) error {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(t.timeout),
	}
	if cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("building smtp client for %s: %w", cfg.Host, err)
	}

	m := mail.NewMsg()
	if err := m.FromFormat(msg.FromName, msg.FromEmail); err != nil {
		return fmt.Errorf("invalid from address %q: %w", msg.FromEmail, err)
	}
	if err := m.AddToFormat(msg.ToName, msg.ToEmail); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", msg.ToEmail, err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return fmt.Errorf("invalid reply-to address %q: %w", msg.ReplyTo, err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp delivery to %s via %s:%d: %w", msg.ToEmail, cfg.Host, cfg.Port, err)
	}
	return nil
}

// BuildMessage assembles the per-recipient message from a send context,
// falling back to the SMTP identity's display name when the dispatch has none.
func BuildMessage(sc domain.SendContext) Message {
	msg := Message{
		FromEmail: sc.FromEmail,
		FromName:  sc.FromEmail,
		ToEmail:   sc.ToEmail,
		ToName:    sc.ToName,
		Subject:   sc.Subject,
		HTMLBody:  sc.Body,
	}
	if sc.SMTP != nil && sc.SMTP.FromName != nil && *sc.SMTP.FromName != "" {
		msg.FromName = *sc.SMTP.FromName
	}
	if sc.FromName != nil && *sc.FromName != "" {
		msg.FromName = *sc.FromName
	}
	if sc.ReplyTo != nil {
		msg.ReplyTo = *sc.ReplyTo
	}
	return msg
}
