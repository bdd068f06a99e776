package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "github.com/yuchia/localledger/internal/errors"
)

// Relevance weights per matched field. Description matches dominate,
// location and category name matches break ties.
const (
	scoreDescription = 10
	scoreLocation    = 5
	scoreCategory    = 3
)

// defaultSearchLimit caps search results when the caller passes no limit.
const defaultSearchLimit = 50

// SearchResult is one search hit with its relevance score and a
// highlighted description.
type SearchResult struct {
	RecordView
	Score       int    `json:"score"`
	Highlighted string `json:"highlighted"`
}

// Search finds live records where every whitespace-separated token of
// query matches the description, location, project name, category name
// or payment account name. Results are ordered by relevance, newest
// first on ties.
func (s *Service) Search(ctx context.Context, accountID, query string, limit int) ([]SearchResult, error) {
	if accountID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "account_id is required")
	}
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return []SearchResult{}, nil
	}
	if limit < 1 {
		limit = defaultSearchLimit
	}

	sqlText, args := searchQuery(accountID, tokens, limit)

	var results []SearchResult
	err := s.store.Stats().Timed("search_records", func() error {
		return s.store.WithConn(ctx, func(conn *sql.Conn) error {
			rows, err := conn.QueryContext(ctx, sqlText, args...)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "search records", err)
			}
			defer rows.Close()

			results = []SearchResult{}
			for rows.Next() {
				result, err := scanSearchResult(rows)
				if err != nil {
					return err
				}
				result.Highlighted = Highlight(result.Description, tokens)
				results = append(results, *result)
			}
			return rows.Err()
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// searchQuery assembles the scored search statement. Every token
// contributes one match requirement and one score expression.
func searchQuery(accountID string, tokens []string, limit int) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString(`SELECT r.id, r.account_id, r.record_type, r.amount, r.record_date,
	r.description, r.creator_id, r.payment_account_id, r.category_id,
	r.tags, r.location, r.project_name, r.related_people, r.images,
	r.sync_status, r.local_version, r.server_version, r.device_id,
	r.hash_value, r.conflict_data, r.last_sync_at, r.is_deleted,
	r.created_at, r.updated_at,
	COALESCE(c.name, ''), COALESCE(pa.name, ''), COALESCE(u.nickname, ''), (`)

	for i, token := range tokens {
		pattern := "%" + token + "%"
		if i > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, `(CASE WHEN r.description LIKE ? THEN %d ELSE 0 END
		+ CASE WHEN r.location LIKE ? THEN %d ELSE 0 END
		+ CASE WHEN c.name LIKE ? THEN %d ELSE 0 END)`,
			scoreDescription, scoreLocation, scoreCategory)
		args = append(args, pattern, pattern, pattern)
	}

	sb.WriteString(`) AS score
	FROM records r
	LEFT JOIN categories c ON r.category_id = c.id
	LEFT JOIN payment_accounts pa ON r.payment_account_id = pa.id
	LEFT JOIN users u ON r.creator_id = u.id
	WHERE r.account_id = ? AND r.is_deleted = 0`)
	args = append(args, accountID)

	for _, token := range tokens {
		pattern := "%" + token + "%"
		sb.WriteString(`
		AND (r.description LIKE ? OR r.location LIKE ? OR r.project_name LIKE ?
		     OR c.name LIKE ? OR pa.name LIKE ?)`)
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	sb.WriteString(`
	ORDER BY score DESC, r.record_date DESC
	LIMIT ?`)
	args = append(args, limit)

	return sb.String(), args
}

// scanSearchResult reads one scored search row.
func scanSearchResult(rows *sql.Rows) (*SearchResult, error) {
	var result SearchResult
	r := &result.Record
	var recordType, amount, tags, relatedPeople, images string
	var syncStatus, isDeleted int

	err := rows.Scan(&r.ID, &r.AccountID, &recordType, &amount, &r.RecordDate,
		&r.Description, &r.CreatorID, &r.PaymentAccountID, &r.CategoryID,
		&tags, &r.Location, &r.ProjectName, &relatedPeople, &images,
		&syncStatus, &r.LocalVersion, &r.ServerVersion, &r.DeviceID,
		&r.HashValue, &r.ConflictData, &r.LastSyncAt, &isDeleted,
		&r.CreatedAt, &r.UpdatedAt,
		&result.CategoryName, &result.PaymentAccountName, &result.CreatorNickname,
		&result.Score)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan search result", err)
	}

	if err := hydrateRecord(r, recordType, amount, tags, relatedPeople, images, syncStatus, isDeleted); err != nil {
		return nil, err
	}
	return &result, nil
}

// Highlight wraps every case-insensitive occurrence of the tokens in
// text with <mark> tags.
func Highlight(text string, tokens []string) string {
	result := text
	for _, token := range tokens {
		if token == "" {
			continue
		}
		result = highlightToken(result, token)
	}
	return result
}

func highlightToken(text, token string) string {
	var sb strings.Builder
	lowerText := strings.ToLower(text)
	lowerToken := strings.ToLower(token)

	for {
		idx := strings.Index(lowerText, lowerToken)
		if idx < 0 {
			sb.WriteString(text)
			return sb.String()
		}
		sb.WriteString(text[:idx])
		sb.WriteString("<mark>")
		sb.WriteString(text[idx : idx+len(token)])
		sb.WriteString("</mark>")
		text = text[idx+len(token):]
		lowerText = lowerText[idx+len(lowerToken):]
	}
}
