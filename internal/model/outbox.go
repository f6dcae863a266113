package model

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a captured domain event awaiting publication.
type OutboxMessage struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	Type                  string     `db:"type" json:"type"`
	Content               string     `db:"content" json:"content"`
	CreatedOn             time.Time  `db:"created_on" json:"created_on"`
	ProcessedOn           *time.Time `db:"processed_on" json:"processed_on,omitempty"`
	Error                 *string    `db:"error" json:"error,omitempty"`
	RetryCount            *int       `db:"retry_count" json:"retry_count,omitempty"`
	ProcessingLock        *uuid.UUID `db:"processing_lock" json:"processing_lock,omitempty"`
	LastProcessingAttempt *time.Time `db:"last_processing_attempt" json:"last_processing_attempt,omitempty"`
}

// Retries returns RetryCount, treating NULL as zero.
func (m *OutboxMessage) Retries() int {
	if m.RetryCount == nil {
		return 0
	}
	return *m.RetryCount
}

// Eligible reports whether the message may be claimed at now. A claim older
// than lockTimeout is treated as abandoned.
func (m *OutboxMessage) Eligible(now time.Time, maxRetries int, lockTimeout time.Duration) bool {
	if m.ProcessedOn != nil {
		return false
	}
	if m.Retries() >= maxRetries {
		return false
	}
	if m.LastProcessingAttempt == nil {
		return m.ProcessingLock == nil
	}
	return now.After(m.LastProcessingAttempt.Add(lockTimeout))
}

// ErrAbandonedClaim is the error recorded on a message dead-lettered because
// its final claim was never finalised.
const ErrAbandonedClaim = "processing abandoned after final claim"

// Abandoned reports whether the final claim went stale without being
// finalised. Such a message is no longer eligible and has to be
// dead-lettered by a sweep.
func (m *OutboxMessage) Abandoned(now time.Time, maxRetries int, lockTimeout time.Duration) bool {
	if m.ProcessedOn != nil || m.ProcessingLock == nil || m.LastProcessingAttempt == nil {
		return false
	}
	return m.Retries() >= maxRetries && now.After(m.LastProcessingAttempt.Add(lockTimeout))
}

// OutboxDeadLetter is a copy of a message that exhausted its retry budget.
type OutboxDeadLetter struct {
	ID         uuid.UUID `db:"id" json:"id"`
	MessageID  uuid.UUID `db:"message_id" json:"message_id"`
	Type       string    `db:"type" json:"type"`
	Content    string    `db:"content" json:"content"`
	Error      *string   `db:"error" json:"error,omitempty"`
	RetryCount int       `db:"retry_count" json:"retry_count"`
	CreatedOn  time.Time `db:"created_on" json:"created_on"`
	FailedAt   time.Time `db:"failed_at" json:"failed_at"`
}
