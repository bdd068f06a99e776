// Package queue provides unit tests for the sync dispatcher.
package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuchia/localledger/internal/models"
)

func TestProcessReadyCompletesAndFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	good := enqueueTestItem(t, m, "rec-good", models.PriorityNormal)
	bad := enqueueTestItem(t, m, "rec-bad", models.PriorityNormal)

	d := NewDispatcher(m, 2)
	defer d.Close()

	result, err := d.ProcessReady(ctx, 10, func(ctx context.Context, item *models.SyncQueueItem) (*int, error) {
		if item.RecordID == "rec-bad" {
			return nil, errors.New("server returned 500")
		}
		version := 7
		return &version, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)

	completed, err := m.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, completed.Status)

	failed, err := m.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "server returned 500", failed.ErrorMessage)
}

func TestProcessReadyEmptyQueue(t *testing.T) {
	m := newTestManager(t)

	d := NewDispatcher(m, 1)
	defer d.Close()

	result, err := d.ProcessReady(context.Background(), 10,
		func(ctx context.Context, item *models.SyncQueueItem) (*int, error) {
			t.Fatal("sync must not run with an empty queue")
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
}
