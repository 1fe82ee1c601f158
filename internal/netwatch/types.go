// Package netwatch defines the core types shared across the watch-and-notify pipeline.
package netwatch

import (
	"strings"
	"time"
)

// ContentType selects the body format used when notifying about a change.
type ContentType string

// Supported notification content types.
const (
	ContentTypePlain ContentType = "plain"
	ContentTypeHTML  ContentType = "html"
)

// ParseContentType normalizes a content type, accepting the legacy MIME spellings.
// An empty value defaults to plain.
func ParseContentType(raw string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "plain", "text/plain":
		return ContentTypePlain, nil
	case "html", "text/html":
		return ContentTypeHTML, nil
	default:
		return "", Validationf("invalid content type %q", raw)
	}
}

// MIME returns the MIME type used by mail transports.
func (c ContentType) MIME() string {
	if c == ContentTypeHTML {
		return "text/html"
	}
	return "text/plain"
}

// WatchItem is a tracked page plus its notification and scheduling configuration.
type WatchItem struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" validate:"max=256"`
	Description string      `json:"description"`
	Alert       string      `json:"alert"`
	Link        string      `json:"link" validate:"required,url"`
	Selector    string      `json:"selector"`
	Hash        string      `json:"hash"`
	Email       bool        `json:"email"`
	Recipient   string      `json:"recipient" validate:"omitempty,email"`
	ContentType ContentType `json:"content_type" validate:"oneof=plain html"`
	Frequency   string      `json:"frequency" validate:"required,cron"`
}

// ChangeLogEntry records that a WatchItem's content changed.
type ChangeLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Link      string    `json:"link"`
}

// FetchRequest captures everything needed to fetch a watched page.
type FetchRequest struct {
	ItemID   string
	URL      string
	Selector string
}

// FetchResult is the transient output of one fetch. Hash is filled by the processor.
type FetchResult struct {
	URL      string
	Selector string
	Body     []byte
	Hash     string
}

// Message is a rendered notification ready for a transport.
type Message struct {
	From        string
	To          string
	Subject     string
	Body        string
	ContentType ContentType
}

// Batch is a unit of work for the processing pool.
type Batch struct {
	IDs       []string
	Source    string
	Submitted time.Time
}

// Batch sources.
const (
	SourceScheduler = "scheduler"
	SourceManual    = "manual"
)
