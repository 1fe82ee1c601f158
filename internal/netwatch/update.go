package netwatch

import (
	"sort"
	"strconv"
)

// Field names accepted in create and update requests.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldAlert       = "alert"
	FieldLink        = "link"
	FieldSelector    = "selector"
	FieldHash        = "hash"
	FieldEmail       = "email"
	FieldRecipient   = "recipient"
	FieldContentType = "content_type"
	FieldFrequency   = "frequency"
)

// WatchItemUpdate is the closed set of updatable WatchItem fields. Nil means "not supplied".
type WatchItemUpdate struct {
	Name        *string
	Description *string
	Alert       *string
	Link        *string
	Selector    *string
	Hash        *string
	Email       *bool
	Recipient   *string
	ContentType *ContentType
	Frequency   *string
}

// Apply returns item with the supplied fields overwritten.
func (u WatchItemUpdate) Apply(item WatchItem) WatchItem {
	setString(&item.Name, u.Name)
	setString(&item.Description, u.Description)
	setString(&item.Alert, u.Alert)
	setString(&item.Link, u.Link)
	setString(&item.Selector, u.Selector)
	setString(&item.Hash, u.Hash)
	setString(&item.Recipient, u.Recipient)
	setString(&item.Frequency, u.Frequency)
	if u.Email != nil {
		item.Email = *u.Email
	}
	if u.ContentType != nil {
		item.ContentType = *u.ContentType
	}
	return item
}

// IsEmpty reports whether no field was supplied.
func (u WatchItemUpdate) IsEmpty() bool {
	return u == WatchItemUpdate{}
}

// ParseWatchItemUpdate converts request parameters into an update. Unknown field
// names are rejected rather than ignored so typos surface to the caller.
func ParseWatchItemUpdate(values map[string]string) (WatchItemUpdate, error) {
	var u WatchItemUpdate
	for _, key := range sortedKeys(values) {
		value := values[key]
		switch key {
		case FieldName:
			u.Name = ptr(value)
		case FieldDescription:
			u.Description = ptr(value)
		case FieldAlert:
			u.Alert = ptr(value)
		case FieldLink:
			u.Link = ptr(value)
		case FieldSelector:
			u.Selector = ptr(value)
		case FieldHash:
			u.Hash = ptr(value)
		case FieldRecipient:
			u.Recipient = ptr(value)
		case FieldFrequency:
			u.Frequency = ptr(value)
		case FieldEmail:
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return WatchItemUpdate{}, Validationf("field %q: invalid boolean %q", key, value)
			}
			u.Email = &enabled
		case FieldContentType:
			ct, err := ParseContentType(value)
			if err != nil {
				return WatchItemUpdate{}, err
			}
			u.ContentType = &ct
		default:
			return WatchItemUpdate{}, Validationf("unknown field %q", key)
		}
	}
	return u, nil
}

// ParseWatchItem builds a new WatchItem from request parameters. Missing fields take
// their zero value; the hash is never accepted on create.
func ParseWatchItem(values map[string]string) (WatchItem, error) {
	if _, ok := values[FieldHash]; ok {
		return WatchItem{}, Validationf("field %q cannot be set on create", FieldHash)
	}
	u, err := ParseWatchItemUpdate(values)
	if err != nil {
		return WatchItem{}, err
	}
	return u.Apply(WatchItem{ContentType: ContentTypePlain}), nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func ptr[T any](v T) *T {
	return &v
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
