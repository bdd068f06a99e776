package ledger

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
	"github.com/yuchia/localledger/internal/uuid"
)

// BatchOperation is one mutation inside a batch.
type BatchOperation struct {
	Operation models.Operation       `json:"operation"`
	Record    *models.Record         `json:"record,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Updates   map[string]interface{} `json:"updates,omitempty"`
}

// BatchResult reports per-operation outcomes of a batch.
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors"`
}

// Batch runs all operations in one transaction. A missing target or a
// version conflict counts as a failed operation and the batch moves on;
// any other error aborts and rolls back the whole batch. The entire
// batch therefore commits as a unit or not at all.
func (s *Service) Batch(ctx context.Context, operations []BatchOperation) (*BatchResult, error) {
	result := &BatchResult{Errors: []string{}}
	accounts := make(map[string]struct{})

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i, op := range operations {
			switch op.Operation {
			case models.OperationCreate:
				if op.Record == nil {
					return apperrors.New(apperrors.ErrValidation,
						fmt.Sprintf("batch operation %d: create requires a record", i))
				}
				if err := s.createTx(ctx, tx, op.Record); err != nil {
					return err
				}
				accounts[string(op.Record.AccountID)] = struct{}{}
				result.Succeeded++

			case models.OperationUpdate:
				applied, accountID, err := s.updateTx(ctx, tx, op.RecordID, op.Updates)
				if err != nil {
					if apperrors.Is(err, apperrors.ErrNotFound) {
						result.Failed++
						result.Errors = append(result.Errors,
							fmt.Sprintf("operation %d: record %s not found", i, op.RecordID))
						continue
					}
					return err
				}
				accounts[accountID] = struct{}{}
				if !applied {
					result.Failed++
					result.Conflicts++
					result.Errors = append(result.Errors,
						fmt.Sprintf("operation %d: record %s has a newer server version", i, op.RecordID))
					continue
				}
				result.Succeeded++

			case models.OperationDelete:
				accountID, err := s.softDeleteTx(ctx, tx, op.RecordID)
				if err != nil {
					if apperrors.Is(err, apperrors.ErrNotFound) {
						result.Failed++
						result.Errors = append(result.Errors,
							fmt.Sprintf("operation %d: record %s not found", i, op.RecordID))
						continue
					}
					return err
				}
				accounts[accountID] = struct{}{}
				result.Succeeded++

			default:
				return apperrors.New(apperrors.ErrValidation,
					fmt.Sprintf("batch operation %d: unknown operation %q", i, op.Operation))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for accountID := range accounts {
		s.invalidateAccount(accountID)
	}
	logging.Info("batch applied", map[string]interface{}{
		"operations": len(operations),
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
	})
	return result, nil
}

// createTx stamps and inserts one new record plus its outbox entry.
func (s *Service) createTx(ctx context.Context, tx *sql.Tx, r *models.Record) error {
	if err := validateNewRecord(r); err != nil {
		return err
	}

	now := s.now().Unix()
	if r.ID == "" {
		r.ID = models.UUID(uuid.New())
	}
	if r.RecordDate == 0 {
		r.RecordDate = now
	}
	r.DeviceID = s.store.DeviceID()
	r.SyncStatus = models.SyncStatusNotSynced
	r.LocalVersion = 1
	r.ServerVersion = 0
	r.ConflictData = ""
	r.IsDeleted = false
	r.CreatedAt = now
	r.UpdatedAt = now
	r.HashValue = r.ComputeHash()

	if err := s.insertRecordTx(ctx, tx, r); err != nil {
		return err
	}
	return s.enqueueTx(ctx, tx, r, models.OperationCreate, nil)
}
