// Package sendgrid delivers notifications through the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// SecretService names the keychain service holding the API key.
const SecretService = "netwatch_sendgrid_api_key"

const (
	defaultHost  = "https://api.sendgrid.com"
	sendEndpoint = "/v3/mail/send"
)

// Config captures the API parameters.
type Config struct {
	APIKey string
	// Host overrides the API base URL.
	Host string
}

// Notifier sends messages via the SendGrid API.
type Notifier struct {
	apiKey string
	host   string
}

// New builds a Notifier.
func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	return &Notifier{apiKey: cfg.APIKey, host: host}, nil
}

// Send delivers one message. Any non-2xx response is a transport error.
func (n *Notifier) Send(ctx context.Context, msg netwatch.Message) error {
	plain, html := msg.Body, ""
	if msg.ContentType == netwatch.ContentTypeHTML {
		plain, html = "", msg.Body
	}
	email := mail.NewSingleEmail(mail.NewEmail("", msg.From), msg.Subject, mail.NewEmail("", msg.To), plain, html)

	request := sg.GetRequest(n.apiKey, sendEndpoint, n.host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(email)

	resp, err := sg.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w: %w", netwatch.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: %w: status %d: %s", netwatch.ErrTransport, resp.StatusCode, resp.Body)
	}
	return nil
}
