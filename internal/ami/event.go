package ami

import (
	"strconv"
	"strings"
)

// Event is a parsed AMI event: an ordered set of key-value headers.
// Lookups are case-insensitive because switches are not consistent
// about header casing across versions (Uniqueid vs UniqueID etc).
type Event struct {
	headers []header
}

type header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key/value strings.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// GetAny returns the first non-empty value among the given keys.
// Used at the normalization boundary to resolve field aliases.
func (e Event) GetAny(keys ...string) string {
	for _, k := range keys {
		if v := e.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// GetInt returns the integer value for the given key, or 0 if not parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// GetFloat returns the float value for the given key, or 0 if not parseable.
func (e Event) GetFloat(key string) float64 {
	v, _ := strconv.ParseFloat(e.Get(key), 64)
	return v
}

// Headers returns all headers as key-value pairs.
func (e Event) Headers() []header {
	return e.headers
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}
