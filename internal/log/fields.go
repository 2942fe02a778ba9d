// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldMessageID     = "message_id"
	FieldDedupID       = "dedup_id"
	FieldGroupID       = "group_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldEventKind = "event_kind"
	FieldComponent = "component"
	FieldOutcome   = "outcome"
	FieldReason    = "reason"
	FieldAttempts  = "attempts"
	FieldBatchSize = "batch_size"

	// Queue / transport fields
	FieldQueueURL   = "queue_url"
	FieldHTTPStatus = "http_status"

	// Store fields
	FieldKey          = "key"
	FieldPeriodBucket = "period_bucket"
)
