package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/secrets/memory"
)

type staticConfig map[string]string

func (c staticConfig) ConfigMap() map[string]string { return c }

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []netwatch.Message
	failTo map[string]bool
}

func (f *fakeNotifier) Send(_ context.Context, msg netwatch.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[msg.To] {
		return errors.New("relay rejected recipient")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func fakeTransports(n *fakeNotifier, secrets *[]string) map[string]Transport {
	return map[string]Transport{
		"smtp": {
			SecretService: "netwatch_email_password",
			New: func(_ Settings, secret string) (netwatch.Notifier, error) {
				*secrets = append(*secrets, secret)
				return n, nil
			},
		},
	}
}

func changedItem(id, recipient string, email bool) netwatch.WatchItem {
	return netwatch.WatchItem{
		ID:          id,
		Name:        id,
		Alert:       "price changed",
		Link:        "https://example.com/" + id,
		Email:       email,
		Recipient:   recipient,
		ContentType: netwatch.ContentTypePlain,
	}
}

func TestNotifySendsOnlyEmailEnabledItems(t *testing.T) {
	t.Parallel()

	secrets := memory.New()
	require.NoError(t, secrets.Set("netwatch_email_password", "me@example.com", "pw"))
	n := &fakeNotifier{}
	var used []string
	d := New(staticConfig{"username": "me@example.com"}, secrets, fakeTransports(n, &used), nil)

	err := d.Notify(context.Background(), []netwatch.WatchItem{
		changedItem("a", "a@example.com", true),
		changedItem("b", "b@example.com", false),
	})
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	require.Equal(t, netwatch.Message{
		From:        "me@example.com",
		To:          "a@example.com",
		Subject:     DefaultSubject,
		Body:        "price changed - https://example.com/a",
		ContentType: netwatch.ContentTypePlain,
	}, n.sent[0])
	require.Equal(t, []string{"pw"}, used)
}

func TestNotifyUnknownTransportFailsWholeBatch(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	var used []string
	d := New(staticConfig{"username": "me@example.com", "email_sender": "pigeon"}, memory.New(), fakeTransports(n, &used), nil)

	err := d.Notify(context.Background(), []netwatch.WatchItem{changedItem("a", "a@example.com", true)})
	require.ErrorIs(t, err, netwatch.ErrConfig)
	require.Contains(t, err.Error(), "pigeon")
	require.Empty(t, n.sent)
}

func TestNotifyUnknownTransportIgnoredWhenNothingToSend(t *testing.T) {
	t.Parallel()

	var used []string
	d := New(staticConfig{"email_sender": "pigeon"}, memory.New(), fakeTransports(&fakeNotifier{}, &used), nil)
	require.NoError(t, d.Notify(context.Background(), []netwatch.WatchItem{changedItem("a", "", false)}))
	require.NoError(t, d.Notify(context.Background(), nil))
}

func TestNotifyMissingSecretIsPerSendConfigError(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	var used []string
	d := New(staticConfig{"username": "me@example.com"}, memory.New(), fakeTransports(n, &used), nil)

	err := d.Notify(context.Background(), []netwatch.WatchItem{
		changedItem("a", "a@example.com", true),
		changedItem("b", "b@example.com", true),
	})
	require.ErrorIs(t, err, netwatch.ErrConfig)
	require.Contains(t, err.Error(), "notify a")
	require.Contains(t, err.Error(), "notify b")
	require.Empty(t, used)
}

func TestNotifyTransportFailureDoesNotStopOtherSends(t *testing.T) {
	t.Parallel()

	secrets := memory.New()
	require.NoError(t, secrets.Set("netwatch_email_password", "me@example.com", "pw"))
	n := &fakeNotifier{failTo: map[string]bool{"a@example.com": true}}
	var used []string
	d := New(staticConfig{"username": "me@example.com", "email_subject": "Heads up"}, secrets, fakeTransports(n, &used), nil)

	err := d.Notify(context.Background(), []netwatch.WatchItem{
		changedItem("a", "a@example.com", true),
		changedItem("b", "b@example.com", true),
	})
	require.ErrorIs(t, err, netwatch.ErrTransport)
	require.False(t, errors.Is(err, netwatch.ErrConfig))
	require.Len(t, n.sent, 1)
	require.Equal(t, "b@example.com", n.sent[0].To)
	require.Equal(t, "Heads up", n.sent[0].Subject)
}

func TestNotifyMissingUsernameIsConfigError(t *testing.T) {
	t.Parallel()

	var used []string
	d := New(staticConfig{}, memory.New(), fakeTransports(&fakeNotifier{}, &used), nil)
	err := d.Notify(context.Background(), []netwatch.WatchItem{changedItem("a", "a@example.com", true)})
	require.ErrorIs(t, err, netwatch.ErrConfig)
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Parallel()

	s := LoadSettings(map[string]string{"username": " me@example.com ", "email_sender": " "})
	require.Equal(t, Settings{
		Username:  "me@example.com",
		Transport: DefaultTransport,
		SMTPAddr:  DefaultSMTPAddr,
		Subject:   DefaultSubject,
	}, s)
}

func TestDefaultTransportsBuildNotifiers(t *testing.T) {
	t.Parallel()

	transports := DefaultTransports()
	require.Contains(t, transports, TransportSMTP)
	require.Contains(t, transports, TransportSendGrid)

	n, err := transports[TransportSMTP].New(Settings{SMTPAddr: DefaultSMTPAddr, Username: "me@example.com"}, "pw")
	require.NoError(t, err)
	require.NotNil(t, n)

	_, err = transports[TransportSendGrid].New(Settings{}, "")
	require.Error(t, err)
}
