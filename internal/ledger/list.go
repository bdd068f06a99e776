package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yuchia/localledger/internal/db"
	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/models"
)

// defaultPageSize applies when a filter leaves the page size unset.
const defaultPageSize = 20

// maxPageSize bounds a single page to keep responses and cache entries
// small.
const maxPageSize = 200

// ListFilter narrows and pages a record listing.
type ListFilter struct {
	AccountID  string            `json:"account_id"`
	RecordType models.RecordType `json:"record_type,omitempty"`
	CategoryID string            `json:"category_id,omitempty"`
	StartDate  int64             `json:"start_date,omitempty"`
	EndDate    int64             `json:"end_date,omitempty"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

// RecordView is a record joined with human-readable reference names.
type RecordView struct {
	models.Record
	CategoryName       string `json:"category_name,omitempty"`
	PaymentAccountName string `json:"payment_account_name,omitempty"`
	CreatorNickname    string `json:"creator_nickname,omitempty"`
}

// Page is one page of a record listing.
type Page struct {
	Items      []RecordView `json:"items"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int64        `json:"total_pages"`
	HasNext    bool         `json:"has_next"`
	HasPrev    bool         `json:"has_prev"`
}

// List returns a filtered, newest-first page of live records with
// category, payment account and creator names resolved. Pages are served
// from the read cache until a mutation on the account invalidates them.
func (s *Service) List(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.AccountID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "account_id is required")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}

	cacheKey := listCacheKey(filter)
	if cached, ok := s.store.Cache().Get(cacheKey); ok {
		if page, ok := cached.(*Page); ok {
			return page, nil
		}
	}

	var page *Page
	err := s.store.Stats().Timed("list_records", func() error {
		countQuery, countArgs, err := listQuery(filter, true)
		if err != nil {
			return err
		}
		pageQuery, pageArgs, err := listQuery(filter, false)
		if err != nil {
			return err
		}

		return s.store.WithConn(ctx, func(conn *sql.Conn) error {
			var total int64
			if err := conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "count records", err)
			}

			rows, err := conn.QueryContext(ctx, pageQuery, pageArgs...)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "query record page", err)
			}
			defer rows.Close()

			items := []RecordView{}
			for rows.Next() {
				view, err := scanRecordView(rows)
				if err != nil {
					return err
				}
				items = append(items, *view)
			}
			if err := rows.Err(); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "iterate record page", err)
			}

			page = buildPage(items, total, filter.Page, filter.PageSize)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.store.Cache().Set(cacheKey, page, s.pageTTL)
	return page, nil
}

// buildPage computes the pagination envelope.
func buildPage(items []RecordView, total int64, pageNum, pageSize int) *Page {
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	return &Page{
		Items:      items,
		Total:      total,
		Page:       pageNum,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    int64(pageNum)*int64(pageSize) < total,
		HasPrev:    pageNum > 1,
	}
}

// listQuery builds either the count or the page query for a filter.
func listQuery(filter ListFilter, count bool) (string, []interface{}, error) {
	qb := db.NewQueryBuilder().From("records", "r")
	if count {
		qb.Select("COUNT(*)")
	} else {
		qb.Select("r.id", "r.account_id", "r.record_type", "r.amount", "r.record_date",
			"r.description", "r.creator_id", "r.payment_account_id", "r.category_id",
			"r.tags", "r.location", "r.project_name", "r.related_people", "r.images",
			"r.sync_status", "r.local_version", "r.server_version", "r.device_id",
			"r.hash_value", "r.conflict_data", "r.last_sync_at", "r.is_deleted",
			"r.created_at", "r.updated_at",
			"COALESCE(c.name, '')", "COALESCE(pa.name, '')", "COALESCE(u.nickname, '')").
			LeftJoin("categories c", "r.category_id = c.id").
			LeftJoin("payment_accounts pa", "r.payment_account_id = pa.id").
			LeftJoin("users u", "r.creator_id = u.id")
	}

	qb.Where("r.account_id = ?", filter.AccountID).
		Where("r.is_deleted = 0")
	if filter.RecordType != "" {
		qb.Where("r.record_type = ?", string(filter.RecordType))
	}
	if filter.CategoryID != "" {
		qb.Where("r.category_id = ?", filter.CategoryID)
	}
	if filter.StartDate > 0 && filter.EndDate > 0 {
		qb.WhereBetween("r.record_date", filter.StartDate, filter.EndDate)
	} else if filter.StartDate > 0 {
		qb.Where("r.record_date >= ?", filter.StartDate)
	} else if filter.EndDate > 0 {
		qb.Where("r.record_date <= ?", filter.EndDate)
	}

	if !count {
		qb.OrderBy("r.record_date", "DESC").
			OrderBy("r.created_at", "DESC").
			Limit(filter.PageSize, (filter.Page-1)*filter.PageSize)
	}
	return qb.Build()
}

// listCacheKey derives a stable cache key from every filter dimension.
func listCacheKey(filter ListFilter) string {
	return fmt.Sprintf("records:%s:list:%s:%s:%d:%d:%d:%d",
		filter.AccountID, filter.RecordType, filter.CategoryID,
		filter.StartDate, filter.EndDate, filter.Page, filter.PageSize)
}

// scanRecordView reads one joined record row.
func scanRecordView(rows *sql.Rows) (*RecordView, error) {
	var view RecordView
	r := &view.Record
	var recordType, amount, tags, relatedPeople, images string
	var syncStatus, isDeleted int

	err := rows.Scan(&r.ID, &r.AccountID, &recordType, &amount, &r.RecordDate,
		&r.Description, &r.CreatorID, &r.PaymentAccountID, &r.CategoryID,
		&tags, &r.Location, &r.ProjectName, &relatedPeople, &images,
		&syncStatus, &r.LocalVersion, &r.ServerVersion, &r.DeviceID,
		&r.HashValue, &r.ConflictData, &r.LastSyncAt, &isDeleted,
		&r.CreatedAt, &r.UpdatedAt,
		&view.CategoryName, &view.PaymentAccountName, &view.CreatorNickname)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan record view", err)
	}

	if err := hydrateRecord(r, recordType, amount, tags, relatedPeople, images, syncStatus, isDeleted); err != nil {
		return nil, err
	}
	return &view, nil
}

// hydrateRecord converts raw column values into typed record fields.
func hydrateRecord(r *models.Record, recordType, amount, tags, relatedPeople, images string, syncStatus, isDeleted int) error {
	r.RecordType = models.RecordType(recordType)
	parsed, err := parseAmount(amount)
	if err != nil {
		return err
	}
	r.Amount = parsed
	r.Tags = models.UnmarshalStringList(tags)
	r.RelatedPeople = models.UnmarshalStringList(relatedPeople)
	r.Images = models.UnmarshalStringList(images)
	r.SyncStatus = models.SyncStatus(syncStatus)
	r.IsDeleted = isDeleted != 0
	return nil
}
