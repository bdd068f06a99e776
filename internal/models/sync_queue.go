// Package models provides data model definitions for the local ledger store.
package models

import "encoding/json"

// Operation is the mutation kind a sync queue item represents.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Priority orders sync queue items; lower values sync first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// QueueStatus is the lifecycle state of a sync queue item.
type QueueStatus int

const (
	QueueStatusPending   QueueStatus = 0
	QueueStatusSyncing   QueueStatus = 1
	QueueStatusCompleted QueueStatus = 2
	QueueStatusFailed    QueueStatus = 3
)

// String returns the lowercase name of the queue status.
func (s QueueStatus) String() string {
	switch s {
	case QueueStatusPending:
		return "pending"
	case QueueStatusSyncing:
		return "syncing"
	case QueueStatusCompleted:
		return "completed"
	case QueueStatusFailed:
		return "failed"
	}
	return "unknown"
}

// SyncQueueItem is one pending local mutation awaiting remote
// reconciliation.
type SyncQueueItem struct {
	ID           int64           `db:"id" json:"id"`
	TableName    string          `db:"table_name" json:"table_name"`
	RecordID     string          `db:"record_id" json:"record_id"`
	Operation    Operation       `db:"operation" json:"operation"`
	Priority     Priority        `db:"priority" json:"priority"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Changes      json.RawMessage `db:"changes" json:"changes,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	MaxRetries   int             `db:"max_retries" json:"max_retries"`
	Status       QueueStatus     `db:"status" json:"status"`
	NextRetryAt  *int64          `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    int64           `db:"created_at" json:"created_at"`
	UpdatedAt    int64           `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the item has permanently failed and will not
// be retried without external intervention.
func (i *SyncQueueItem) Terminal() bool {
	return i.Status == QueueStatusFailed && i.RetryCount >= i.MaxRetries
}
