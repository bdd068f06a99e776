package ledger

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// ListConflicts returns the account's live records whose last update was
// parked because the server held a newer version.
func (s *Service) ListConflicts(ctx context.Context, accountID string) ([]models.Record, error) {
	if accountID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "account_id is required")
	}

	var records []models.Record
	err := s.store.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT "+recordColumns+` FROM records
			WHERE account_id = ? AND is_deleted = 0 AND sync_status = ?
			ORDER BY updated_at DESC`,
			accountID, int(models.SyncStatusConflict))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "query conflicted records", err)
		}
		defer rows.Close()

		records = []models.Record{}
		for rows.Next() {
			record, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, *record)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ResolveConflict settles a parked conflict. With keepLocal the local
// content stands and goes back on the sync queue; otherwise the parked
// remote changes are applied and the record is considered synced.
func (s *Service) ResolveConflict(ctx context.Context, id string, keepLocal bool) error {
	var accountID string
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		record, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		accountID = string(record.AccountID)

		if record.SyncStatus != models.SyncStatusConflict {
			return apperrors.New(apperrors.ErrInvalid, "record has no pending conflict")
		}

		now := s.now().Unix()
		if keepLocal {
			record.SyncStatus = models.SyncStatusNotSynced
			record.LocalVersion++
			record.ConflictData = ""
			record.UpdatedAt = now

			_, err := tx.ExecContext(ctx, `
				UPDATE records
				SET sync_status = ?, local_version = ?, conflict_data = '', updated_at = ?
				WHERE id = ?`,
				int(record.SyncStatus), record.LocalVersion, now, id)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "keep local record version", err)
			}
			return s.enqueueTx(ctx, tx, record, models.OperationUpdate, nil)
		}

		var remote map[string]interface{}
		if err := json.Unmarshal([]byte(record.ConflictData), &remote); err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "parse parked conflict data", err)
		}

		serverVersion := record.ServerVersion
		if raw, ok := remote["server_version"]; ok {
			if v, err := toInt(raw); err == nil {
				serverVersion = v
			}
		}
		if err := applyUpdates(record, remote); err != nil {
			return err
		}

		record.ServerVersion = serverVersion
		if serverVersion > record.LocalVersion {
			record.LocalVersion = serverVersion
		}
		record.SyncStatus = models.SyncStatusSynced
		record.ConflictData = ""
		record.HashValue = record.ComputeHash()
		record.LastSyncAt = now
		record.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE records
			SET record_type = ?, amount = ?, record_date = ?, description = ?,
			    payment_account_id = ?, category_id = ?, tags = ?, location = ?,
			    project_name = ?, related_people = ?, images = ?,
			    sync_status = ?, local_version = ?, server_version = ?,
			    hash_value = ?, conflict_data = '', last_sync_at = ?, updated_at = ?
			WHERE id = ?`,
			string(record.RecordType), record.Amount.String(), record.RecordDate,
			record.Description, record.PaymentAccountID, record.CategoryID,
			models.MarshalStringList(record.Tags), record.Location,
			record.ProjectName, models.MarshalStringList(record.RelatedPeople),
			models.MarshalStringList(record.Images),
			int(record.SyncStatus), record.LocalVersion, record.ServerVersion,
			record.HashValue, record.LastSyncAt, record.UpdatedAt, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "accept remote record version", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateAccount(accountID)
	logging.Info("conflict resolved", map[string]interface{}{
		"record_id":  id,
		"keep_local": keepLocal,
	})
	return nil
}
