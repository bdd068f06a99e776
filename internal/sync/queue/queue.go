// Package queue provides the durable outbox for offline mutations.
// Every local write lands here in the same transaction that mutated the
// record, and items leave only after a successful remote round trip or
// after exhausting their retries.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yuchia/localledger/internal/db"
	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// maxBackoffSeconds caps the retry delay at one hour.
const maxBackoffSeconds = 3600

// Manager persists and schedules sync queue items on top of the store.
type Manager struct {
	store             *db.Store
	defaultMaxRetries int
	now               func() time.Time
}

// NewManager creates a queue manager. defaultMaxRetries applies to items
// enqueued without an explicit retry budget.
func NewManager(store *db.Store, defaultMaxRetries int) *Manager {
	if defaultMaxRetries < 1 {
		defaultMaxRetries = 3
	}
	return &Manager{
		store:             store,
		defaultMaxRetries: defaultMaxRetries,
		now:               time.Now,
	}
}

// InsertTx appends an item inside an existing transaction. Callers use
// this to make the enqueue atomic with the record mutation it mirrors.
// The item's ID, status and timestamps are set here.
func (m *Manager) InsertTx(ctx context.Context, tx *sql.Tx, item *models.SyncQueueItem) error {
	if !item.Operation.Valid() {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown queue operation %q", item.Operation))
	}
	if item.Priority < models.PriorityCritical || item.Priority > models.PriorityLow {
		item.Priority = models.PriorityNormal
	}
	if item.MaxRetries < 1 {
		item.MaxRetries = m.defaultMaxRetries
	}

	now := m.now().Unix()
	item.Status = models.QueueStatusPending
	item.RetryCount = 0
	item.NextRetryAt = nil
	item.CreatedAt = now
	item.UpdatedAt = now

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue
			(table_name, record_id, operation, priority, payload, changes,
			 retry_count, max_retries, status, next_retry_at, error_message,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, NULL, '', ?, ?)`,
		item.TableName, item.RecordID, string(item.Operation), int(item.Priority),
		string(item.Payload), nullableJSON(item.Changes),
		item.MaxRetries, int(models.QueueStatusPending), now, now)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "insert sync queue item", err)
	}

	item.ID, err = result.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "read sync queue item id", err)
	}
	return nil
}

// Enqueue appends an item in its own transaction.
func (m *Manager) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		return m.InsertTx(ctx, tx, item)
	})
}

// DequeueReady claims up to limit items that are due for a sync attempt
// and marks them syncing, all in one transaction. Due means pending, or
// failed with retries left and a reached retry deadline. Items come back
// ordered by priority then age. priorities narrows the claim to the
// given levels; nil claims every level.
func (m *Manager) DequeueReady(ctx context.Context, limit int, priorities []models.Priority) ([]models.SyncQueueItem, error) {
	if limit < 1 {
		limit = 50
	}

	qb := db.NewQueryBuilder().
		Select("id", "table_name", "record_id", "operation", "priority",
			"payload", "changes", "retry_count", "max_retries", "status",
			"next_retry_at", "error_message", "created_at", "updated_at").
		From("sync_queue").
		Where("status IN (?, ?)", int(models.QueueStatusPending), int(models.QueueStatusFailed)).
		Where("retry_count < max_retries").
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", m.now().Unix()).
		OrderBy("priority", "ASC").
		OrderBy("created_at", "ASC").
		Limit(limit)
	if len(priorities) > 0 {
		values := make([]interface{}, len(priorities))
		for i, p := range priorities {
			values[i] = int(p)
		}
		qb.WhereIn("priority", values)
	}
	query, args, err := qb.Build()
	if err != nil {
		return nil, err
	}

	var items []models.SyncQueueItem
	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "query ready sync queue items", err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		if err := rows.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "iterate sync queue items", err)
		}

		now := m.now().Unix()
		for i := range items {
			_, err := tx.ExecContext(ctx,
				"UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?",
				int(models.QueueStatusSyncing), now, items[i].ID)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "claim sync queue item", err)
			}
			items[i].Status = models.QueueStatusSyncing
			items[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkCompleted finalizes a successful sync attempt. When the item
// mirrors a ledger record, the record's sync metadata is stamped in the
// same transaction; serverVersion, when given, records the version the
// remote acknowledged.
func (m *Manager) MarkCompleted(ctx context.Context, id int64, serverVersion *int) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		item, err := m.getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		now := m.now().Unix()
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET status = ?, next_retry_at = NULL, error_message = '', updated_at = ?
			WHERE id = ?`,
			int(models.QueueStatusCompleted), now, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "complete sync queue item", err)
		}

		if item.TableName == (models.Record{}).TableName() {
			if err := m.stampRecordSynced(ctx, tx, item.RecordID, serverVersion, now); err != nil {
				return err
			}
		}

		logging.Debug("sync queue item completed", map[string]interface{}{
			"queue_id":  id,
			"record_id": item.RecordID,
			"operation": string(item.Operation),
		})
		return nil
	})
}

// stampRecordSynced marks the mirrored record as synced.
func (m *Manager) stampRecordSynced(ctx context.Context, tx *sql.Tx, recordID string, serverVersion *int, now int64) error {
	var err error
	if serverVersion != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE records
			SET sync_status = ?, server_version = ?, last_sync_at = ?, conflict_data = '', updated_at = ?
			WHERE id = ?`,
			int(models.SyncStatusSynced), *serverVersion, now, now, recordID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE records
			SET sync_status = ?, last_sync_at = ?, conflict_data = '', updated_at = ?
			WHERE id = ?`,
			int(models.SyncStatusSynced), now, now, recordID)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "stamp record synced", err)
	}
	return nil
}

// MarkFailed records a failed sync attempt. Items with retries left are
// rescheduled with exponential backoff; items out of retries become
// terminal with no retry deadline.
func (m *Manager) MarkFailed(ctx context.Context, id int64, message string) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		item, err := m.getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		now := m.now()
		retryCount := item.RetryCount + 1

		if retryCount >= item.MaxRetries {
			_, err = tx.ExecContext(ctx, `
				UPDATE sync_queue
				SET status = ?, retry_count = ?, next_retry_at = NULL,
				    error_message = ?, updated_at = ?
				WHERE id = ?`,
				int(models.QueueStatusFailed), retryCount, message, now.Unix(), id)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "fail sync queue item", err)
			}

			if item.TableName == (models.Record{}).TableName() {
				_, err = tx.ExecContext(ctx,
					"UPDATE records SET sync_status = ?, updated_at = ? WHERE id = ?",
					int(models.SyncStatusFailed), now.Unix(), item.RecordID)
				if err != nil {
					return apperrors.Wrap(apperrors.ErrDatabase, "stamp record sync failed", err)
				}
			}

			logging.Warn("sync queue item permanently failed", map[string]interface{}{
				"queue_id":    id,
				"record_id":   item.RecordID,
				"retry_count": retryCount,
				"error":       message,
			})
			return nil
		}

		nextRetry := now.Unix() + Backoff(retryCount)
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET status = ?, retry_count = ?, next_retry_at = ?,
			    error_message = ?, updated_at = ?
			WHERE id = ?`,
			int(models.QueueStatusFailed), retryCount, nextRetry, message, now.Unix(), id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "reschedule sync queue item", err)
		}

		logging.Debug("sync queue item rescheduled", map[string]interface{}{
			"queue_id":      id,
			"retry_count":   retryCount,
			"next_retry_at": nextRetry,
		})
		return nil
	})
}

// Requeue resets a permanently failed item so it becomes due again. Only
// terminal items can be requeued.
func (m *Manager) Requeue(ctx context.Context, id int64) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		item, err := m.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !item.Terminal() {
			return apperrors.New(apperrors.ErrQueueItemState,
				fmt.Sprintf("queue item %d is %s, only permanently failed items can be requeued",
					id, item.Status))
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET status = ?, retry_count = 0, next_retry_at = NULL,
			    error_message = '', updated_at = ?
			WHERE id = ?`,
			int(models.QueueStatusPending), m.now().Unix(), id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "requeue sync queue item", err)
		}
		return nil
	})
}

// Get returns one queue item by id.
func (m *Manager) Get(ctx context.Context, id int64) (*models.SyncQueueItem, error) {
	var item *models.SyncQueueItem
	err := m.store.WithConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT id, table_name, record_id, operation, priority, payload,
			       changes, retry_count, max_retries, status, next_retry_at,
			       error_message, created_at, updated_at
			FROM sync_queue WHERE id = ?`, id)
		var err error
		item, err = scanItem(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// getTx loads one item inside a transaction.
func (m *Manager) getTx(ctx context.Context, tx *sql.Tx, id int64) (*models.SyncQueueItem, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, table_name, record_id, operation, priority, payload,
		       changes, retry_count, max_retries, status, next_retry_at,
		       error_message, created_at, updated_at
		FROM sync_queue WHERE id = ?`, id)
	return scanItem(row)
}

// rowScanner abstracts sql.Row and sql.Rows for scanItem.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var operation string
	var priority, status int
	var payload, changes, errorMessage string
	var nextRetryAt sql.NullInt64

	err := row.Scan(&item.ID, &item.TableName, &item.RecordID, &operation,
		&priority, &payload, &changes, &item.RetryCount, &item.MaxRetries,
		&status, &nextRetryAt, &errorMessage, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrQueueItemNotFound, "sync queue item not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan sync queue item", err)
	}

	item.Operation = models.Operation(operation)
	item.Priority = models.Priority(priority)
	item.Status = models.QueueStatus(status)
	item.Payload = []byte(payload)
	if changes != "" {
		item.Changes = []byte(changes)
	}
	item.ErrorMessage = errorMessage
	if nextRetryAt.Valid {
		v := nextRetryAt.Int64
		item.NextRetryAt = &v
	}
	return &item, nil
}

// Backoff returns the retry delay in seconds for the given attempt:
// 2^retryCount minutes, capped at one hour.
func Backoff(retryCount int) int64 {
	if retryCount > 6 {
		return maxBackoffSeconds
	}
	delay := (int64(1) << uint(retryCount)) * 60
	if delay > maxBackoffSeconds {
		return maxBackoffSeconds
	}
	return delay
}

// nullableJSON stores empty raw JSON as NULL-equivalent empty string.
func nullableJSON(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
