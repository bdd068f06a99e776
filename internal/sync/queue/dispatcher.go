package queue

import (
	"context"

	"github.com/yuchia/localledger/internal/db"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// SyncFunc performs the remote round trip for one queue item. On success
// it may return the server-acknowledged version of the mirrored record.
type SyncFunc func(ctx context.Context, item *models.SyncQueueItem) (serverVersion *int, err error)

// ProcessResult summarizes one dispatch pass.
type ProcessResult struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Dispatcher drains ready queue items through a bounded worker pool.
type Dispatcher struct {
	manager  *Manager
	executor *db.Executor
}

// NewDispatcher creates a dispatcher running sync attempts on workers
// goroutines.
func NewDispatcher(manager *Manager, workers int) *Dispatcher {
	return &Dispatcher{
		manager:  manager,
		executor: db.NewExecutor(workers),
	}
}

// ProcessReady claims up to limit due items and runs fn for each on the
// worker pool. Outcomes are written back to the queue: success marks the
// item completed, failure reschedules or terminates it. The pass itself
// only fails on queue access errors, never on individual sync attempts.
func (d *Dispatcher) ProcessReady(ctx context.Context, limit int, fn SyncFunc) (*ProcessResult, error) {
	items, err := d.manager.DequeueReady(ctx, limit, nil)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Attempted: len(items)}
	futures := make([]*db.Future, 0, len(items))

	for i := range items {
		item := items[i]
		future, err := d.executor.Submit(func() (interface{}, error) {
			return fn(ctx, &item)
		})
		if err != nil {
			return nil, err
		}
		futures = append(futures, future)
	}

	for i, future := range futures {
		item := items[i]
		value, err := future.Wait(ctx)
		if err != nil {
			if markErr := d.manager.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				return nil, markErr
			}
			result.Failed++
			continue
		}

		serverVersion, _ := value.(*int)
		if err := d.manager.MarkCompleted(ctx, item.ID, serverVersion); err != nil {
			return nil, err
		}
		result.Completed++
	}

	if result.Attempted > 0 {
		logging.Info("sync dispatch pass finished", map[string]interface{}{
			"attempted": result.Attempted,
			"completed": result.Completed,
			"failed":    result.Failed,
		})
	}
	return result, nil
}

// Close stops the worker pool after in-flight attempts finish.
func (d *Dispatcher) Close() {
	d.executor.Close()
}
