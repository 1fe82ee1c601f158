package netwatch

import (
	"context"
	"time"
)

// Fetcher renders a URL, optionally scoped by a content selector.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Notifier delivers a rendered message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SecretStore reads and writes credentials keyed by (service, account).
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces WatchItem IDs.
type IDGenerator interface {
	NewID() (string, error)
}
