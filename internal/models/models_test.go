// Package models provides unit tests for data model behavior.
package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func sampleRecord() *Record {
	return &Record{
		ID:          UUID("5f1c7a68-9f5b-4c4e-8a3d-2b1e0c9d8e7f"),
		AccountID:   UUID("acct-1"),
		RecordType:  RecordTypeExpense,
		Amount:      decimal.RequireFromString("50.00"),
		RecordDate:  1700000000,
		Description: "lunch",
		CategoryID:  "cat-food",
		Tags:        []string{"work"},
	}
}

func TestHashIgnoresSyncMetadata(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()

	b.SyncStatus = SyncStatusConflict
	b.LocalVersion = 7
	b.ServerVersion = 9
	b.DeviceID = "other-device"
	b.HashValue = "stale"
	b.CreatedAt = 1234
	b.UpdatedAt = 5678

	assert.Equal(t, a.ComputeHash(), b.ComputeHash())
}

func TestHashChangesWithContent(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Description = "lunch with team"

	assert.NotEqual(t, a.ComputeHash(), b.ComputeHash())
}

func TestHashDeterministic(t *testing.T) {
	r := sampleRecord()
	assert.Equal(t, r.ComputeHash(), r.ComputeHash())
}

func TestRecordTypeValid(t *testing.T) {
	assert.True(t, RecordTypeIncome.Valid())
	assert.True(t, RecordTypeExpense.Valid())
	assert.True(t, RecordTypeTransfer.Valid())
	assert.False(t, RecordType("loan").Valid())
}

func TestSyncStatusString(t *testing.T) {
	assert.Equal(t, "not_synced", SyncStatusNotSynced.String())
	assert.Equal(t, "synced", SyncStatusSynced.String())
	assert.Equal(t, "conflict", SyncStatusConflict.String())
	assert.Equal(t, "failed", SyncStatusFailed.String())
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, int(PriorityCritical), int(PriorityHigh))
	assert.Less(t, int(PriorityHigh), int(PriorityNormal))
	assert.Less(t, int(PriorityNormal), int(PriorityLow))
}

func TestQueueItemTerminal(t *testing.T) {
	item := &SyncQueueItem{Status: QueueStatusFailed, RetryCount: 3, MaxRetries: 3}
	assert.True(t, item.Terminal())

	item.RetryCount = 2
	assert.False(t, item.Terminal())

	item.Status = QueueStatusPending
	item.RetryCount = 3
	assert.False(t, item.Terminal())
}

func TestStringListRoundTrip(t *testing.T) {
	assert.Equal(t, "[]", MarshalStringList(nil))
	assert.Equal(t, []string{}, UnmarshalStringList(""))
	assert.Equal(t, []string{}, UnmarshalStringList("{bad json"))

	encoded := MarshalStringList([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, UnmarshalStringList(encoded))
}
