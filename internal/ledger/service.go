// Package ledger implements record management on top of the store:
// validated writes with optimistic concurrency, offline mutation
// queueing, pagination, search, analytics and duplicate detection.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuchia/localledger/internal/config"
	"github.com/yuchia/localledger/internal/db"
	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
	"github.com/yuchia/localledger/internal/uuid"
)

// QueueWriter appends outbox items inside an existing transaction, so a
// record mutation and its queue entry commit or roll back together.
type QueueWriter interface {
	InsertTx(ctx context.Context, tx *sql.Tx, item *models.SyncQueueItem) error
}

// Service is the record management facade.
type Service struct {
	store        *db.Store
	queue        QueueWriter
	pageTTL      time.Duration
	analyticsTTL time.Duration
	now          func() time.Time
}

// NewService wires a Service over the store and the sync outbox.
func NewService(store *db.Store, queue QueueWriter, cfg *config.Config) *Service {
	return &Service{
		store:        store,
		queue:        queue,
		pageTTL:      cfg.Cache.PageTTL,
		analyticsTTL: cfg.Cache.AnalyticsTTL,
		now:          time.Now,
	}
}

// recordColumns is the SELECT list used everywhere a full record is read.
const recordColumns = `id, account_id, record_type, amount, record_date, description,
	creator_id, payment_account_id, category_id, tags, location, project_name,
	related_people, images, sync_status, local_version, server_version,
	device_id, hash_value, conflict_data, last_sync_at, is_deleted,
	created_at, updated_at`

// Create validates and persists a new record. The record is stamped with
// identity, device and sync metadata, and a create operation lands in
// the sync queue within the same transaction.
func (s *Service) Create(ctx context.Context, r *models.Record) error {
	return s.store.Stats().Timed("create_record", func() error {
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			return s.createTx(ctx, tx, r)
		})
		if err != nil {
			return err
		}

		s.invalidateAccount(string(r.AccountID))
		s.store.Emit(db.EventRecordCreated, map[string]interface{}{
			"record_id":  string(r.ID),
			"account_id": string(r.AccountID),
		})
		logging.Debug("record created", map[string]interface{}{
			"record_id": string(r.ID),
			"type":      string(r.RecordType),
		})
		return nil
	})
}

// Get returns one live record by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Record, error) {
	var record *models.Record
	err := s.store.WithConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM records WHERE id = ? AND is_deleted = 0", id)
		var err error
		record, err = scanRecord(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update applies a partial update under optimistic concurrency. When the
// stored record's server_version is ahead of its local_version the local
// edit would overwrite a change the server already holds, so the incoming
// fields are parked as conflict data instead of being applied and Update
// reports false. A missing record also reports false without an error.
// Otherwise the fields are applied, the local version advances and an
// update operation is queued atomically.
func (s *Service) Update(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	applied := false
	err := s.store.Stats().Timed("update_record", func() error {
		var accountID string
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			applied, accountID, err = s.updateTx(ctx, tx, id, updates)
			return err
		})
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		s.invalidateAccount(accountID)
		if applied {
			s.store.Emit(db.EventRecordUpdated, map[string]interface{}{
				"record_id":  id,
				"account_id": accountID,
			})
		}
		return nil
	})
	return applied, err
}

// updateTx performs the conflict check and field application. It returns
// whether the update was applied and the record's account for cache
// invalidation.
func (s *Service) updateTx(ctx context.Context, tx *sql.Tx, id string, updates map[string]interface{}) (bool, string, error) {
	record, err := s.getTx(ctx, tx, id)
	if err != nil {
		return false, "", err
	}
	accountID := string(record.AccountID)
	now := s.now().Unix()

	if record.ServerVersion > record.LocalVersion {
		conflictData, _ := json.Marshal(updates)
		_, err := tx.ExecContext(ctx, `
			UPDATE records
			SET sync_status = ?, conflict_data = ?, updated_at = ?
			WHERE id = ?`,
			int(models.SyncStatusConflict), string(conflictData), now, id)
		if err != nil {
			return false, accountID, apperrors.Wrap(apperrors.ErrDatabase, "park conflict data", err)
		}
		logging.Warn("update conflicts with newer server version", map[string]interface{}{
			"record_id":      id,
			"local_version":  record.LocalVersion,
			"server_version": record.ServerVersion,
		})
		return false, accountID, nil
	}

	if err := applyUpdates(record, updates); err != nil {
		return false, accountID, err
	}

	record.LocalVersion++
	record.SyncStatus = models.SyncStatusNotSynced
	record.HashValue = record.ComputeHash()
	record.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET record_type = ?, amount = ?, record_date = ?, description = ?,
		    payment_account_id = ?, category_id = ?, tags = ?, location = ?,
		    project_name = ?, related_people = ?, images = ?,
		    sync_status = ?, local_version = ?, hash_value = ?, updated_at = ?
		WHERE id = ?`,
		string(record.RecordType), record.Amount.String(), record.RecordDate,
		record.Description, record.PaymentAccountID, record.CategoryID,
		models.MarshalStringList(record.Tags), record.Location,
		record.ProjectName, models.MarshalStringList(record.RelatedPeople),
		models.MarshalStringList(record.Images),
		int(record.SyncStatus), record.LocalVersion, record.HashValue, record.UpdatedAt, id)
	if err != nil {
		return false, accountID, wrapWriteError("update record", err)
	}

	changes, _ := json.Marshal(updates)
	if err := s.enqueueTx(ctx, tx, record, models.OperationUpdate, changes); err != nil {
		return false, accountID, err
	}
	return true, accountID, nil
}

// SoftDelete tombstones a record and queues the deletion with high
// priority so removals propagate ahead of routine edits. It reports
// whether a record was deleted; a missing or already-deleted record
// reports false without an error.
func (s *Service) SoftDelete(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.store.Stats().Timed("delete_record", func() error {
		var accountID string
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			accountID, err = s.softDeleteTx(ctx, tx, id)
			return err
		})
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		deleted = true
		s.invalidateAccount(accountID)
		s.store.Emit(db.EventRecordDeleted, map[string]interface{}{
			"record_id":  id,
			"account_id": accountID,
		})
		return nil
	})
	return deleted, err
}

func (s *Service) softDeleteTx(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	record, err := s.getTx(ctx, tx, id)
	if err != nil {
		return "", err
	}

	now := s.now().Unix()
	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET is_deleted = 1, sync_status = ?, local_version = ?, updated_at = ?
		WHERE id = ?`,
		int(models.SyncStatusNotSynced), record.LocalVersion+1, now, id)
	if err != nil {
		return "", wrapWriteError("soft delete record", err)
	}

	record.LocalVersion++
	record.IsDeleted = true
	item := &models.SyncQueueItem{
		TableName: record.TableName(),
		RecordID:  id,
		Operation: models.OperationDelete,
		Priority:  models.PriorityHigh,
		Payload:   mustJSON(map[string]interface{}{"id": id, "is_deleted": true}),
	}
	if err := s.queue.InsertTx(ctx, tx, item); err != nil {
		return "", err
	}
	return string(record.AccountID), nil
}

// getTx loads one live record inside a transaction.
func (s *Service) getTx(ctx context.Context, tx *sql.Tx, id string) (*models.Record, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE id = ? AND is_deleted = 0", id)
	return scanRecord(row)
}

// insertRecordTx writes a fully stamped record row.
func (s *Service) insertRecordTx(ctx context.Context, tx *sql.Tx, r *models.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO records
			(id, account_id, record_type, amount, record_date, description,
			 creator_id, payment_account_id, category_id, tags, location,
			 project_name, related_people, images, sync_status, local_version,
			 server_version, device_id, hash_value, conflict_data, last_sync_at,
			 is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.AccountID), string(r.RecordType), r.Amount.String(),
		r.RecordDate, r.Description, r.CreatorID, r.PaymentAccountID, r.CategoryID,
		models.MarshalStringList(r.Tags), r.Location, r.ProjectName,
		models.MarshalStringList(r.RelatedPeople), models.MarshalStringList(r.Images),
		int(r.SyncStatus), r.LocalVersion, r.ServerVersion, r.DeviceID,
		r.HashValue, r.ConflictData, r.LastSyncAt, boolToInt(r.IsDeleted),
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return wrapWriteError("insert record", err)
	}
	return nil
}

// enqueueTx appends the outbox entry mirroring a record mutation.
func (s *Service) enqueueTx(ctx context.Context, tx *sql.Tx, r *models.Record, op models.Operation, changes json.RawMessage) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "serialize record payload", err)
	}
	item := &models.SyncQueueItem{
		TableName: r.TableName(),
		RecordID:  string(r.ID),
		Operation: op,
		Priority:  models.PriorityNormal,
		Payload:   payload,
		Changes:   changes,
	}
	return s.queue.InsertTx(ctx, tx, item)
}

// invalidateAccount drops every cached page and report for an account.
func (s *Service) invalidateAccount(accountID string) {
	if accountID == "" {
		return
	}
	s.store.Cache().InvalidatePrefix("records:" + accountID + ":")
	s.store.Cache().InvalidatePrefix("analytics:" + accountID + ":")
}

// validateNewRecord enforces the invariants every new record must hold.
func validateNewRecord(r *models.Record) error {
	if r.AccountID == "" {
		return apperrors.New(apperrors.ErrValidation, "account_id is required")
	}
	if !r.RecordType.Valid() {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown record type %q", r.RecordType))
	}
	if !r.Amount.IsPositive() {
		return apperrors.New(apperrors.ErrValidation, "amount must be positive")
	}
	if r.ID != "" && !uuid.IsValid(string(r.ID)) {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("record id %q is not a valid uuid", r.ID))
	}
	return nil
}

// applyUpdates copies whitelisted fields from the update map onto the
// record. Unknown keys are rejected so typos surface instead of being
// silently dropped; sync metadata keys are ignored because the sync
// layer owns them.
func applyUpdates(r *models.Record, updates map[string]interface{}) error {
	for key, value := range updates {
		switch key {
		case "record_type":
			t := models.RecordType(fmt.Sprintf("%v", value))
			if !t.Valid() {
				return apperrors.New(apperrors.ErrValidation,
					fmt.Sprintf("unknown record type %q", t))
			}
			r.RecordType = t
		case "amount":
			amount, err := toDecimal(value)
			if err != nil {
				return apperrors.New(apperrors.ErrValidation,
					fmt.Sprintf("amount %v is not a number", value))
			}
			if !amount.IsPositive() {
				return apperrors.New(apperrors.ErrValidation, "amount must be positive")
			}
			r.Amount = amount
		case "record_date":
			date, err := toInt64(value)
			if err != nil {
				return apperrors.New(apperrors.ErrValidation, "record_date must be a unix timestamp")
			}
			r.RecordDate = date
		case "description":
			r.Description = fmt.Sprintf("%v", value)
		case "payment_account_id":
			r.PaymentAccountID = fmt.Sprintf("%v", value)
		case "category_id":
			r.CategoryID = fmt.Sprintf("%v", value)
		case "location":
			r.Location = fmt.Sprintf("%v", value)
		case "project_name":
			r.ProjectName = fmt.Sprintf("%v", value)
		case "tags":
			r.Tags = toStringList(value)
		case "related_people":
			r.RelatedPeople = toStringList(value)
		case "images":
			r.Images = toStringList(value)
		case "server_version", "sync_status", "local_version":
			// Owned by the sync layer; never applied from caller input.
		default:
			return apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("field %q cannot be updated", key))
		}
	}
	return nil
}

// scanRecord reads one record row.
func scanRecord(row interface{ Scan(...interface{}) error }) (*models.Record, error) {
	var r models.Record
	var recordType, amount, tags, relatedPeople, images string
	var syncStatus, isDeleted int

	err := row.Scan(&r.ID, &r.AccountID, &recordType, &amount, &r.RecordDate,
		&r.Description, &r.CreatorID, &r.PaymentAccountID, &r.CategoryID,
		&tags, &r.Location, &r.ProjectName, &relatedPeople, &images,
		&syncStatus, &r.LocalVersion, &r.ServerVersion, &r.DeviceID,
		&r.HashValue, &r.ConflictData, &r.LastSyncAt, &isDeleted,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan record", err)
	}

	if err := hydrateRecord(&r, recordType, amount, tags, relatedPeople, images, syncStatus, isDeleted); err != nil {
		return nil, err
	}
	return &r, nil
}

// parseAmount converts the stored decimal text back into a Decimal.
func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.ErrDatabase, "parse stored amount", err)
	}
	return amount, nil
}

// wrapWriteError maps SQLite constraint failures to a distinct code so
// callers can tell bad input from storage trouble.
func wrapWriteError(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "constraint") {
		return apperrors.Wrap(apperrors.ErrConstraint, op, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

func toDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported amount type %T", value)
}

func toInt(value interface{}) (int, error) {
	v, err := toInt64(value)
	return int(v), err
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("unsupported integer type %T", value)
}

func toStringList(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			list = append(list, fmt.Sprintf("%v", item))
		}
		return list
	}
	return []string{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
