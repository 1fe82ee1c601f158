package keyring

import (
	"testing"

	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// MockInit swaps the process-wide provider, so these tests do not run in parallel.
func TestStoreRoundTrip(t *testing.T) {
	gokeyring.MockInit()

	store := New()
	_, err := store.Get("netwatch_email_password", "me@example.com")
	require.ErrorIs(t, err, netwatch.ErrNotFound)

	require.NoError(t, store.Set("netwatch_email_password", "me@example.com", "hunter2"))
	secret, err := store.Get("netwatch_email_password", "me@example.com")
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)

	_, err = store.Get("netwatch_sendgrid_api_key", "me@example.com")
	require.ErrorIs(t, err, netwatch.ErrNotFound)
}
