// Package queue provides unit tests for the durable sync queue.
package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuchia/localledger/internal/config"
	"github.com/yuchia/localledger/internal/db"
	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/models"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			DataDir:        t.TempDir(),
			PoolSize:       2,
			AcquireTimeout: time.Second,
		},
		Migrations: config.MigrationsConfig{
			Dir:            "../../../migrations",
			ChecksumPolicy: config.PolicyWarn,
		},
	}
	s, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(newTestStore(t), 3)
}

func enqueueTestItem(t *testing.T, m *Manager, recordID string, priority models.Priority) *models.SyncQueueItem {
	t.Helper()
	item := &models.SyncQueueItem{
		TableName: "records",
		RecordID:  recordID,
		Operation: models.OperationCreate,
		Priority:  priority,
		Payload:   []byte(`{"description":"coffee"}`),
	}
	require.NoError(t, m.Enqueue(context.Background(), item))
	return item
}

func TestEnqueueAssignsIDAndDefaults(t *testing.T) {
	m := newTestManager(t)

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)
	assert.Greater(t, item.ID, int64(0))
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, 3, item.MaxRetries)
	assert.Nil(t, item.NextRetryAt)

	stored, err := m.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", stored.RecordID)
	assert.Equal(t, models.OperationCreate, stored.Operation)
}

func TestEnqueueRejectsUnknownOperation(t *testing.T) {
	m := newTestManager(t)

	err := m.Enqueue(context.Background(), &models.SyncQueueItem{
		TableName: "records",
		RecordID:  "rec-1",
		Operation: "merge",
		Payload:   []byte(`{}`),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestDequeueReadyOrdersByPriorityThenAge(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	low := enqueueTestItem(t, m, "rec-low", models.PriorityLow)
	critical := enqueueTestItem(t, m, "rec-critical", models.PriorityCritical)
	normal := enqueueTestItem(t, m, "rec-normal", models.PriorityNormal)

	items, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, critical.ID, items[0].ID)
	assert.Equal(t, normal.ID, items[1].ID)
	assert.Equal(t, low.ID, items[2].ID)

	for _, item := range items {
		assert.Equal(t, models.QueueStatusSyncing, item.Status)
	}
}

func TestDequeueReadyClaimsItems(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	enqueueTestItem(t, m, "rec-1", models.PriorityNormal)

	first, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A second pass must not hand out the same item.
	second, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestDequeueReadyFiltersPriorities(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	enqueueTestItem(t, m, "rec-low", models.PriorityLow)
	critical := enqueueTestItem(t, m, "rec-critical", models.PriorityCritical)

	items, err := m.DequeueReady(ctx, 10,
		[]models.Priority{models.PriorityCritical, models.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, critical.ID, items[0].ID)
}

func TestMarkFailedSchedulesBackoff(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)
	base := time.Now()
	m.now = func() time.Time { return base }

	require.NoError(t, m.MarkFailed(ctx, item.ID, "network unreachable"))

	stored, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "network unreachable", stored.ErrorMessage)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, base.Unix()+120, *stored.NextRetryAt)
	assert.False(t, stored.Terminal())

	// Not due yet.
	items, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	// Due once the deadline passes.
	m.now = func() time.Time { return base.Add(3 * time.Minute) }
	items, err = m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMarkFailedExhaustsRetries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.MarkFailed(ctx, item.ID, "remote rejected payload"))
	}

	stored, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	assert.True(t, stored.Terminal())

	// Terminal items are never handed out again.
	items, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBackoffFormula(t *testing.T) {
	assert.Equal(t, int64(120), Backoff(1))
	assert.Equal(t, int64(240), Backoff(2))
	assert.Equal(t, int64(480), Backoff(3))
	assert.Equal(t, int64(3600), Backoff(6))
	assert.Equal(t, int64(3600), Backoff(10))
}

func TestMarkCompleted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)
	require.NoError(t, m.MarkCompleted(ctx, item.ID, nil))

	stored, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
}

func TestMarkCompletedNotFound(t *testing.T) {
	m := newTestManager(t)

	err := m.MarkCompleted(context.Background(), 9999, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrQueueItemNotFound))
}

func TestRequeueResetsTerminalItem(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.MarkFailed(ctx, item.ID, "boom"))
	}

	require.NoError(t, m.Requeue(ctx, item.ID))

	stored, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Empty(t, stored.ErrorMessage)
	assert.Nil(t, stored.NextRetryAt)

	items, err := m.DequeueReady(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRequeueRejectsNonTerminalItem(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	item := enqueueTestItem(t, m, "rec-1", models.PriorityNormal)

	err := m.Requeue(ctx, item.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrQueueItemState))
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	enqueueTestItem(t, m, "rec-1", models.PriorityCritical)
	done := enqueueTestItem(t, m, "rec-2", models.PriorityNormal)
	failing := enqueueTestItem(t, m, "rec-3", models.PriorityNormal)

	require.NoError(t, m.MarkCompleted(ctx, done.ID, nil))
	require.NoError(t, m.MarkFailed(ctx, failing.ID, "timeout talking to server"))

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["pending"])
	assert.Equal(t, int64(1), stats.ByStatus["completed"])
	assert.Equal(t, int64(1), stats.ByStatus["failed"])
	assert.Equal(t, int64(1), stats.PendingByLevel["critical"])
	assert.Equal(t, int64(1), stats.PendingByLevel["normal"])
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.5)

	require.Len(t, stats.RecentErrors, 1)
	assert.Equal(t, "timeout talking to server", stats.RecentErrors[0].Message)
	assert.Equal(t, int64(1), stats.RecentErrors[0].Count)
}

func TestStatisticsRanksErrorsByFrequency(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i, message := range []string{
		"timeout talking to server",
		"timeout talking to server",
		"server rejected payload",
	} {
		item := enqueueTestItem(t, m, fmt.Sprintf("rec-%d", i), models.PriorityNormal)
		require.NoError(t, m.MarkFailed(ctx, item.ID, message))
	}

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)

	require.Len(t, stats.RecentErrors, 2)
	assert.Equal(t, "timeout talking to server", stats.RecentErrors[0].Message)
	assert.Equal(t, int64(2), stats.RecentErrors[0].Count)
	assert.Equal(t, "server rejected payload", stats.RecentErrors[1].Message)
	assert.Equal(t, int64(1), stats.RecentErrors[1].Count)
}

func TestStatisticsEmptyQueue(t *testing.T) {
	m := newTestManager(t)

	stats, err := m.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, float64(0), stats.SuccessRate)
	assert.Empty(t, stats.RecentErrors)
}
