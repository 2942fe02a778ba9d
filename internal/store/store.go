// SPDX-License-Identifier: MIT

// Package store holds the two durable sides of the correlation join: the
// TTL-expiring interim store for queries awaiting their response, and the
// append-mostly final store for completed records. All writes are
// idempotent upserts keyed by correlation ID, so concurrent redelivery
// needs no locking.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/skillsift/matchtrail/internal/events"
)

// InterimRecord is the query snapshot held between query arrival and
// either a successful join or TTL expiry. Owned exclusively by the
// correlator.
type InterimRecord struct {
	CorrelationID string            `json:"correlationId"`
	Snapshot      events.QueryEvent `json:"snapshot"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// CorrelatedRecord is the final analytics record: the union of both
// event halves plus the derived aggregation bucket. At most one exists
// per correlation ID, ever.
type CorrelatedRecord struct {
	CorrelationID      string           `json:"correlationId"`
	Query              string           `json:"query"`
	QueryOccurredAt    int64            `json:"queryOccurredAt"`
	MatchType          events.MatchType `json:"matchType"`
	MatchScore         int              `json:"matchScore"`
	Reasoning          string           `json:"reasoning,omitempty"`
	MatchCount         int              `json:"matchCount,omitempty"`
	ResponseOccurredAt int64            `json:"responseOccurredAt"`
	PeriodBucket       string           `json:"periodBucket"`
}

// InterimStore is the durable TTL-expiring side of the join. Expiry is
// the store's native mechanism; the correlator never polls for cleanup.
type InterimStore interface {
	// Upsert writes rec, overwriting any existing record for the same
	// correlation ID and refreshing its TTL.
	Upsert(ctx context.Context, rec InterimRecord) error
	// Get returns the record for the correlation ID, reporting absence
	// (missing or expired) without error.
	Get(ctx context.Context, correlationID string) (InterimRecord, bool, error)
	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, correlationID string) error
}

// FinalStore is the durable destination for completed joins.
type FinalStore interface {
	// Upsert writes rec idempotently: redelivery overwrites the row with
	// identical content.
	Upsert(ctx context.Context, rec CorrelatedRecord) error
	// Get returns the record for the correlation ID if present.
	Get(ctx context.Context, correlationID string) (CorrelatedRecord, bool, error)
	// ListByPeriod returns all records in one aggregation bucket, for the
	// downstream report generator.
	ListByPeriod(ctx context.Context, periodBucket string) ([]CorrelatedRecord, error)
}

// PeriodBucket derives the ISO-8601 week bucket ("2026-W35") for a unix
// millisecond timestamp. Downstream aggregation groups by this value.
func PeriodBucket(unixMilli int64) string {
	year, week := time.UnixMilli(unixMilli).UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
