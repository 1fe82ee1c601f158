// Package notify turns detected changes into delivered notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// Configuration keys read from the datastore at send time.
const (
	KeyUsername     = "username"
	KeyEmailSender  = "email_sender"
	KeySMTPAddr     = "smtp_addr"
	KeyEmailSubject = "email_subject"
)

// Defaults applied when a key is absent or empty.
const (
	DefaultTransport = "smtp"
	DefaultSMTPAddr  = "smtp.googlemail.com:587"
	DefaultSubject   = "NetWatch"
)

// ConfigSource exposes the user-facing configuration map.
type ConfigSource interface {
	ConfigMap() map[string]string
}

// Settings is the resolved sender configuration for one batch.
type Settings struct {
	Username  string
	Transport string
	SMTPAddr  string
	Subject   string
}

// Transport describes how to build a Notifier for a named email_sender value.
type Transport struct {
	// SecretService is the SecretStore service holding the credential; the account is the username.
	SecretService string
	// New builds a Notifier from settings and the credential.
	New func(settings Settings, secret string) (netwatch.Notifier, error)
}

// Dispatcher sends one notification per changed item with email enabled.
type Dispatcher struct {
	config     ConfigSource
	secrets    netwatch.SecretStore
	transports map[string]Transport
	logger     *zap.Logger
}

// New builds a Dispatcher over the given transports, keyed by email_sender value.
func New(config ConfigSource, secrets netwatch.SecretStore, transports map[string]Transport, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		config:     config,
		secrets:    secrets,
		transports: transports,
		logger:     logger.Named("notify"),
	}
}

// LoadSettings resolves sender settings from a configuration map.
func LoadSettings(cfg map[string]string) Settings {
	return Settings{
		Username:  strings.TrimSpace(cfg[KeyUsername]),
		Transport: valueOr(cfg[KeyEmailSender], DefaultTransport),
		SMTPAddr:  valueOr(cfg[KeySMTPAddr], DefaultSMTPAddr),
		Subject:   valueOr(cfg[KeyEmailSubject], DefaultSubject),
	}
}

// Body renders the notification text for an item.
func Body(item netwatch.WatchItem) string {
	return fmt.Sprintf("%s - %s", item.Alert, item.Link)
}

// Notify sends to every item with email enabled. An unknown transport fails the whole
// batch before anything is sent. Per-send failures are collected and joined after every
// send has been attempted.
func (d *Dispatcher) Notify(ctx context.Context, changed []netwatch.WatchItem) error {
	var targets []netwatch.WatchItem
	for _, item := range changed {
		if item.Email {
			targets = append(targets, item)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	settings := LoadSettings(d.config.ConfigMap())
	transport, ok := d.transports[settings.Transport]
	if !ok {
		return netwatch.Configf("unknown email transport %q", settings.Transport)
	}

	var errs []error
	for _, item := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", item.ID, err))
			break
		}
		if err := d.send(ctx, transport, settings, item); err != nil {
			status := "transport_error"
			if errors.Is(err, netwatch.ErrConfig) {
				status = "config_error"
			}
			metrics.ObserveNotification(settings.Transport, status)
			d.logger.Warn("notification failed",
				zap.String("item_id", item.ID),
				zap.String("transport", settings.Transport),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		metrics.ObserveNotification(settings.Transport, "sent")
		d.logger.Info("notification sent",
			zap.String("item_id", item.ID),
			zap.String("recipient", item.Recipient),
			zap.String("transport", settings.Transport),
		)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, transport Transport, settings Settings, item netwatch.WatchItem) error {
	if settings.Username == "" {
		return netwatch.Configf("notify %s: config key %q is not set", item.ID, KeyUsername)
	}
	secret, err := d.secrets.Get(transport.SecretService, settings.Username)
	if err != nil {
		return netwatch.Configf("notify %s: secret %s for %s unavailable (%v)", item.ID, transport.SecretService, settings.Username, err)
	}
	notifier, err := transport.New(settings, secret)
	if err != nil {
		return netwatch.Configf("notify %s: build %s transport (%v)", item.ID, settings.Transport, err)
	}
	msg := netwatch.Message{
		From:        settings.Username,
		To:          item.Recipient,
		Subject:     settings.Subject,
		Body:        Body(item),
		ContentType: item.ContentType,
	}
	if err := notifier.Send(ctx, msg); err != nil {
		if errors.Is(err, netwatch.ErrTransport) {
			return fmt.Errorf("notify %s: %w", item.ID, err)
		}
		return fmt.Errorf("notify %s: %w: %w", item.ID, netwatch.ErrTransport, err)
	}
	return nil
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
