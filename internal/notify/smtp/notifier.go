// Package smtp delivers notifications through an authenticated SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// SecretService names the keychain service holding the SMTP password.
const SecretService = "netwatch_email_password"

// Config captures the relay connection parameters.
type Config struct {
	Addr     string
	Username string
	Password string
	Timeout  time.Duration
	// TLSPolicy zero value is mail.TLSMandatory.
	TLSPolicy mail.TLSPolicy
}

// Notifier sends messages with SMTP AUTH PLAIN.
type Notifier struct {
	client *mail.Client
}

// New builds a Notifier; no connection is made until Send.
func New(cfg Config) (*Notifier, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp addr %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp port %q: %w", portStr, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(cfg.TLSPolicy),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("build smtp client: %w", err)
	}
	return &Notifier{client: client}, nil
}

// Send delivers one message.
func (n *Notifier) Send(ctx context.Context, msg netwatch.Message) error {
	m, err := BuildMessage(msg)
	if err != nil {
		return err
	}
	if err := n.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w: %w", netwatch.ErrTransport, err)
	}
	return nil
}

// BuildMessage renders a netwatch.Message into a MIME message.
func BuildMessage(msg netwatch.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, netwatch.Validationf("invalid sender %q (%v)", msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, netwatch.Validationf("invalid recipient %q (%v)", msg.To, err)
	}
	m.Subject(msg.Subject)
	contentType := mail.TypeTextPlain
	if msg.ContentType == netwatch.ContentTypeHTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)
	return m, nil
}
