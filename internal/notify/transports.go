package notify

import (
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/notify/sendgrid"
	"github.com/JakeFAU/netwatch/internal/notify/smtp"
)

// Transport names accepted in the email_sender setting.
const (
	TransportSMTP     = "smtp"
	TransportSendGrid = "sendgrid"
)

// DefaultTransports returns the built-in SMTP and SendGrid transports.
func DefaultTransports() map[string]Transport {
	return map[string]Transport{
		TransportSMTP: {
			SecretService: smtp.SecretService,
			New: func(s Settings, secret string) (netwatch.Notifier, error) {
				return smtp.New(smtp.Config{Addr: s.SMTPAddr, Username: s.Username, Password: secret})
			},
		},
		TransportSendGrid: {
			SecretService: sendgrid.SecretService,
			New: func(_ Settings, secret string) (netwatch.Notifier, error) {
				return sendgrid.New(sendgrid.Config{APIKey: secret})
			},
		},
	}
}
