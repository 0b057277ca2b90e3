package common

import (
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Envelope Structure
// --------------------------------------------------------------------------

// Well known metadata keys
const (
	MetaTag    = "tag"    // Event tag, used as topic by the event bridge
	MetaID     = "id"     // Unique message id
	MetaOrigin = "origin" // Name of the sending process
)

// Envelope is the logical message exchanged between a client and a server.
// Body holds the caller's payload and may be any value the configured
// serializer supports (maps, slices, strings, numbers, bools, bytes).
type Envelope struct {
	// Payload
	Body interface{} `msgpack:"body" json:"body"`

	// Optional routing metadata
	Meta map[string]string `msgpack:"meta,omitempty" json:"meta,omitempty"`
}

// --------------------------------------------------------------------------
// Envelope Factory Functions
// --------------------------------------------------------------------------

// NewEnvelope creates a new envelope carrying body
func NewEnvelope(body interface{}) Envelope {
	return Envelope{Body: body}
}

// NewTaggedEnvelope creates a new envelope carrying body with the given tag
func NewTaggedEnvelope(tag string, body interface{}) Envelope {
	return Envelope{
		Body: body,
		Meta: map[string]string{MetaTag: tag},
	}
}

// --------------------------------------------------------------------------
// Envelope Methods
// --------------------------------------------------------------------------

// Tag returns the tag of the envelope or an empty string
func (e Envelope) Tag() string {
	return e.Meta[MetaTag]
}

// ID returns the id of the envelope or an empty string
func (e Envelope) ID() string {
	return e.Meta[MetaID]
}

// WithMeta returns a copy of the envelope with key set to value.
// The metadata map of the receiver is not modified.
func (e Envelope) WithMeta(key, value string) Envelope {
	meta := make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

// String returns a short representation of the envelope, used for logging
func (e Envelope) String() string {
	var sb strings.Builder
	sb.WriteString("envelope{")

	keys := make([]string, 0, len(e.Meta))
	for k := range e.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s=%s ", k, e.Meta[k]))
	}

	sb.WriteString(fmt.Sprintf("body=%T}", e.Body))
	return sb.String()
}
