// SPDX-License-Identifier: MIT

// Package events defines the analytics event model shared by the emitter
// and the correlator: a query half emitted when a question is asked of a
// candidate profile, and a response half emitted when the matching engine
// has scored it. The two halves are joined later by correlation ID.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind discriminates the two event halves on the wire.
type Kind string

const (
	KindQuery    Kind = "query"
	KindResponse Kind = "response"
)

// MatchType classifies how well a response matched the query.
type MatchType string

const (
	MatchFull    MatchType = "full"
	MatchPartial MatchType = "partial"
	MatchNone    MatchType = "none"
)

// Valid reports whether mt is a known match type.
func (mt MatchType) Valid() bool {
	switch mt {
	case MatchFull, MatchPartial, MatchNone:
		return true
	}
	return false
}

// Event is the tagged union decoded once at the queue boundary.
// Concrete types are QueryEvent and ResponseEvent; nothing downstream
// discriminates by field presence.
type Event interface {
	Kind() Kind
	Correlation() string
	Timestamp() int64
	Validate() error
}

// QueryEvent is the first half of an interaction. It is created once,
// immutable after emission.
type QueryEvent struct {
	EventType     Kind           `json:"eventType"`
	CorrelationID string         `json:"correlationId"`
	OccurredAt    int64          `json:"occurredAt"` // unix milliseconds, emitter clock
	Query         string         `json:"query"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (e QueryEvent) Kind() Kind          { return KindQuery }
func (e QueryEvent) Correlation() string { return e.CorrelationID }
func (e QueryEvent) Timestamp() int64    { return e.OccurredAt }

// Validate checks the invariants the transport does not enforce.
func (e QueryEvent) Validate() error {
	if e.CorrelationID == "" {
		return errors.New("query event: empty correlationId")
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("query event %s: non-positive occurredAt %d", e.CorrelationID, e.OccurredAt)
	}
	return nil
}

// ResponseEvent is the second half of an interaction, carrying the
// matching engine's verdict. Created once, immutable.
type ResponseEvent struct {
	EventType     Kind           `json:"eventType"`
	CorrelationID string         `json:"correlationId"`
	OccurredAt    int64          `json:"occurredAt"`
	MatchType     MatchType      `json:"matchType"`
	MatchScore    int            `json:"matchScore"`
	Reasoning     string         `json:"reasoning,omitempty"`
	MatchCount    int            `json:"matchCount,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (e ResponseEvent) Kind() Kind          { return KindResponse }
func (e ResponseEvent) Correlation() string { return e.CorrelationID }
func (e ResponseEvent) Timestamp() int64    { return e.OccurredAt }

// Validate checks the invariants the transport does not enforce.
func (e ResponseEvent) Validate() error {
	if e.CorrelationID == "" {
		return errors.New("response event: empty correlationId")
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("response event %s: non-positive occurredAt %d", e.CorrelationID, e.OccurredAt)
	}
	if !e.MatchType.Valid() {
		return fmt.Errorf("response event %s: unknown matchType %q", e.CorrelationID, e.MatchType)
	}
	if e.MatchScore < 0 || e.MatchScore > 100 {
		return fmt.Errorf("response event %s: matchScore %d out of range [0,100]", e.CorrelationID, e.MatchScore)
	}
	return nil
}

// ErrUnknownEventType is returned by Decode for bodies whose eventType
// discriminator is missing or unrecognised. It is a permanent failure:
// redelivery cannot fix a malformed body.
var ErrUnknownEventType = errors.New("events: unknown eventType")

// envelope is used only to peek at the discriminator before the second,
// fully typed decode.
type envelope struct {
	EventType Kind `json:"eventType"`
}

// Decode parses a queue message body into its concrete event type.
// This is the single place event-type discrimination happens.
func Decode(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("events: decode envelope: %w", err)
	}
	switch env.EventType {
	case KindQuery:
		var e QueryEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("events: decode query: %w", err)
		}
		return e, nil
	case KindResponse:
		var e ResponseEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("events: decode response: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}

// Encode marshals an event for the queue message body, forcing the
// eventType discriminator to match the concrete type.
func Encode(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case QueryEvent:
		ev.EventType = KindQuery
		return json.Marshal(ev)
	case ResponseEvent:
		ev.EventType = KindResponse
		return json.Marshal(ev)
	default:
		return nil, fmt.Errorf("events: encode: unsupported type %T", e)
	}
}

// DedupID derives the queue deduplication key for an event. It is a pure
// function of the logical event identity, so redelivery of the identical
// event collapses to one queue entry.
func DedupID(correlationID string, kind Kind, occurredAt int64) string {
	h := sha256.New()
	h.Write([]byte(correlationID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(occurredAt, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
