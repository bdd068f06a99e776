package queue

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/models"
)

// recentErrorWindow bounds the error sample returned by Statistics.
const recentErrorWindow = time.Hour

// recentErrorLimit caps how many recent errors Statistics returns.
const recentErrorLimit = 5

// RecentError is one error message surfaced in queue statistics, with
// how many items hit it inside the sample window.
type RecentError struct {
	Message    string `json:"message"`
	Count      int64  `json:"count"`
	LastSeenAt int64  `json:"last_seen_at"`
}

// Statistics summarizes queue health.
type Statistics struct {
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"by_status"`
	PendingByLevel map[string]int64 `json:"pending_by_priority"`
	RecentErrors   []RecentError    `json:"recent_errors"`
	SuccessRate    float64          `json:"success_rate"`
}

// Statistics reports per-status and per-priority counts, the most
// frequent error messages of the last hour and the overall success rate.
// Priority counts cover only items still awaiting sync.
func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByStatus:       make(map[string]int64),
		PendingByLevel: make(map[string]int64),
		RecentErrors:   []RecentError{},
	}

	err := m.store.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "count queue statuses", err)
		}
		for rows.Next() {
			var status int
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return apperrors.Wrap(apperrors.ErrDatabase, "scan status count", err)
			}
			stats.ByStatus[models.QueueStatus(status).String()] = count
			stats.Total += count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "iterate status counts", err)
		}

		rows, err = conn.QueryContext(ctx, `
			SELECT priority, COUNT(*) FROM sync_queue
			WHERE status IN (?, ?)
			GROUP BY priority`,
			int(models.QueueStatusPending), int(models.QueueStatusFailed))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "count queue priorities", err)
		}
		for rows.Next() {
			var priority int
			var count int64
			if err := rows.Scan(&priority, &count); err != nil {
				rows.Close()
				return apperrors.Wrap(apperrors.ErrDatabase, "scan priority count", err)
			}
			stats.PendingByLevel[models.Priority(priority).String()] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "iterate priority counts", err)
		}

		since := m.now().Add(-recentErrorWindow).Unix()
		rows, err = conn.QueryContext(ctx, `
			SELECT error_message, COUNT(*), MAX(updated_at)
			FROM sync_queue
			WHERE error_message != '' AND updated_at >= ?
			GROUP BY error_message
			ORDER BY COUNT(*) DESC, MAX(updated_at) DESC
			LIMIT ?`, since, recentErrorLimit)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "query recent queue errors", err)
		}
		for rows.Next() {
			var e RecentError
			if err := rows.Scan(&e.Message, &e.Count, &e.LastSeenAt); err != nil {
				rows.Close()
				return apperrors.Wrap(apperrors.ErrDatabase, "scan recent queue error", err)
			}
			stats.RecentErrors = append(stats.RecentErrors, e)
		}
		rows.Close()
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	completed := stats.ByStatus[models.QueueStatusCompleted.String()]
	total := stats.Total
	if total < 1 {
		total = 1
	}
	stats.SuccessRate = float64(completed) / float64(total) * 100

	return stats, nil
}
