// Package models provides data model definitions for the local ledger store.
package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// RecordType is the kind of ledger entry.
type RecordType string

const (
	RecordTypeIncome   RecordType = "income"
	RecordTypeExpense  RecordType = "expense"
	RecordTypeTransfer RecordType = "transfer"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeIncome, RecordTypeExpense, RecordTypeTransfer:
		return true
	}
	return false
}

// SyncStatus is the synchronization state of a record.
type SyncStatus int

const (
	SyncStatusNotSynced SyncStatus = 0
	SyncStatusSynced    SyncStatus = 1
	SyncStatusConflict  SyncStatus = 2
	SyncStatusFailed    SyncStatus = 3
)

// String returns the lowercase name of the sync status.
func (s SyncStatus) String() string {
	switch s {
	case SyncStatusNotSynced:
		return "not_synced"
	case SyncStatusSynced:
		return "synced"
	case SyncStatusConflict:
		return "conflict"
	case SyncStatusFailed:
		return "failed"
	}
	return "unknown"
}

// Record represents a single income/expense/transfer ledger entry.
type Record struct {
	ID               UUID            `db:"id" json:"id"`
	AccountID        UUID            `db:"account_id" json:"account_id"`
	RecordType       RecordType      `db:"record_type" json:"record_type"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	RecordDate       int64           `db:"record_date" json:"record_date"`
	Description      string          `db:"description" json:"description"`
	CreatorID        string          `db:"creator_id" json:"creator_id,omitempty"`
	PaymentAccountID string          `db:"payment_account_id" json:"payment_account_id,omitempty"`
	CategoryID       string          `db:"category_id" json:"category_id,omitempty"`
	Tags             []string        `db:"tags" json:"tags"`
	Location         string          `db:"location" json:"location,omitempty"`
	ProjectName      string          `db:"project_name" json:"project_name,omitempty"`
	RelatedPeople    []string        `db:"related_people" json:"related_people"`
	Images           []string        `db:"images" json:"images"`

	// Sync metadata. Never part of the content hash.
	SyncStatus    SyncStatus `db:"sync_status" json:"sync_status"`
	LocalVersion  int        `db:"local_version" json:"local_version"`
	ServerVersion int        `db:"server_version" json:"server_version"`
	DeviceID      string     `db:"device_id" json:"device_id,omitempty"`
	HashValue     string     `db:"hash_value" json:"hash_value,omitempty"`
	ConflictData  string     `db:"conflict_data" json:"conflict_data,omitempty"`
	LastSyncAt    int64      `db:"last_sync_at" json:"last_sync_at,omitempty"`

	IsDeleted bool  `db:"is_deleted" json:"is_deleted"`
	CreatedAt int64 `db:"created_at" json:"created_at"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// recordContent is the canonical hashable projection of a record. Field
// order is fixed so the serialized form is deterministic.
type recordContent struct {
	AccountID        string   `json:"account_id"`
	RecordType       string   `json:"record_type"`
	Amount           string   `json:"amount"`
	RecordDate       int64    `json:"record_date"`
	Description      string   `json:"description"`
	CategoryID       string   `json:"category_id"`
	PaymentAccountID string   `json:"payment_account_id"`
	Location         string   `json:"location"`
	ProjectName      string   `json:"project_name"`
	Tags             []string `json:"tags"`
	RelatedPeople    []string `json:"related_people"`
	Images           []string `json:"images"`
}

// ComputeHash returns the deterministic content hash of the record.
// Sync metadata, the soft-delete flag and timestamps are excluded, so two
// records with identical content hash identically regardless of sync state.
func (r *Record) ComputeHash() string {
	content := recordContent{
		AccountID:        string(r.AccountID),
		RecordType:       string(r.RecordType),
		Amount:           r.Amount.String(),
		RecordDate:       r.RecordDate,
		Description:      r.Description,
		CategoryID:       r.CategoryID,
		PaymentAccountID: r.PaymentAccountID,
		Location:         r.Location,
		ProjectName:      r.ProjectName,
		Tags:             r.Tags,
		RelatedPeople:    r.RelatedPeople,
		Images:           r.Images,
	}

	data, _ := json.Marshal(content)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RecordDateTime returns RecordDate as time.Time.
func (r *Record) RecordDateTime() time.Time {
	return time.Unix(r.RecordDate, 0)
}

// MarshalStringList serializes a string list for storage.
func MarshalStringList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

// UnmarshalStringList deserializes a stored string list. Malformed or
// empty input yields an empty list.
func UnmarshalStringList(s string) []string {
	if s == "" {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return []string{}
	}
	return list
}
