package ledger

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// DefaultDuplicateThreshold groups pairs scoring at least this high.
const DefaultDuplicateThreshold = 0.8

// DuplicateMatch is one record similar to a group's anchor.
type DuplicateMatch struct {
	Record     models.Record `json:"record"`
	Similarity float64       `json:"similarity"`
}

// DuplicateGroup is an anchor record plus its likely duplicates.
type DuplicateGroup struct {
	Anchor  models.Record    `json:"anchor"`
	Matches []DuplicateMatch `json:"matches"`
}

// FindDuplicates scans an account's live records within [startDate,
// endDate] for likely duplicates. Records are compared pairwise on
// amount, description, date proximity and category; pairs scoring at or
// above threshold join a group. Grouping is a greedy single pass in
// date order, so each record lands in at most one group.
func (s *Service) FindDuplicates(ctx context.Context, accountID string, startDate, endDate int64, threshold float64) ([]DuplicateGroup, error) {
	if accountID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "account_id is required")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDuplicateThreshold
	}

	var records []models.Record
	err := s.store.Stats().Timed("find_duplicates", func() error {
		return s.store.WithConn(ctx, func(conn *sql.Conn) error {
			rows, err := conn.QueryContext(ctx,
				"SELECT "+recordColumns+` FROM records
				WHERE account_id = ? AND is_deleted = 0 AND record_date BETWEEN ? AND ?
				ORDER BY record_date ASC`,
				accountID, startDate, endDate)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "query records for duplicate scan", err)
			}
			defer rows.Close()

			for rows.Next() {
				record, err := scanRecord(rows)
				if err != nil {
					return err
				}
				records = append(records, *record)
			}
			return rows.Err()
		})
	})
	if err != nil {
		return nil, err
	}

	groups := groupDuplicates(records, threshold)
	if len(groups) > 0 {
		logging.Info("duplicate scan found groups", map[string]interface{}{
			"account_id": accountID,
			"records":    len(records),
			"groups":     len(groups),
		})
	}
	return groups, nil
}

// groupDuplicates runs the greedy single-pass pairwise grouping.
func groupDuplicates(records []models.Record, threshold float64) []DuplicateGroup {
	groups := []DuplicateGroup{}
	used := make([]bool, len(records))

	for i := range records {
		if used[i] {
			continue
		}
		var matches []DuplicateMatch
		for j := i + 1; j < len(records); j++ {
			if used[j] {
				continue
			}
			score := Similarity(&records[i], &records[j])
			if score >= threshold {
				matches = append(matches, DuplicateMatch{Record: records[j], Similarity: score})
				used[j] = true
			}
		}
		if len(matches) > 0 {
			used[i] = true
			groups = append(groups, DuplicateGroup{Anchor: records[i], Matches: matches})
		}
	}
	return groups
}

// Similarity scores how likely two records are duplicates, in [0, 1].
// Weights: amount 0.4 (0.2 when within 10%), description word overlap
// up to 0.3, date proximity up to 0.2, category match 0.1.
func Similarity(a, b *models.Record) float64 {
	score := amountSimilarity(a.Amount, b.Amount)
	score += descriptionSimilarity(a.Description, b.Description) * 0.3
	score += dateSimilarity(a.RecordDate, b.RecordDate)
	if a.CategoryID != "" && a.CategoryID == b.CategoryID {
		score += 0.1
	}
	return score
}

func amountSimilarity(a, b decimal.Decimal) float64 {
	if a.Equal(b) {
		return 0.4
	}
	if a.IsZero() || b.IsZero() {
		return 0
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	diff := a.Sub(b).Abs()
	if diff.Div(larger).LessThanOrEqual(decimal.NewFromFloat(0.1)) {
		return 0.2
	}
	return 0
}

// descriptionSimilarity is the Jaccard index over lowercase word sets.
func descriptionSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for word := range wordsA {
		if _, ok := wordsB[word]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		set[word] = struct{}{}
	}
	return set
}

func dateSimilarity(a, b int64) float64 {
	days := math.Abs(float64(a-b)) / 86400
	switch {
	case days <= 1:
		return 0.2
	case days <= 3:
		return 0.1
	}
	return 0
}
