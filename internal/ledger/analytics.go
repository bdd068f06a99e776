package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/models"
)

// Summary aggregates income and expense over the report window.
type Summary struct {
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	NetIncome    decimal.Decimal `json:"net_income"`
	RecordCount  int64           `json:"record_count"`
	ExpenseCount int64           `json:"expense_count"`
	AvgExpense   decimal.Decimal `json:"avg_expense"`
	MaxExpense   decimal.Decimal `json:"max_expense"`
	MinExpense   decimal.Decimal `json:"min_expense"`
}

// CategoryBreakdown is one category's share of spending.
type CategoryBreakdown struct {
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Total        decimal.Decimal `json:"total"`
	Count        int64           `json:"count"`
	Percentage   float64         `json:"percentage"`
}

// MonthPoint is one month of the income/expense trend.
type MonthPoint struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// AccountDistribution is one payment account's share of spending.
type AccountDistribution struct {
	PaymentAccountID   string          `json:"payment_account_id"`
	PaymentAccountName string          `json:"payment_account_name"`
	Total              decimal.Decimal `json:"total"`
	Count              int64           `json:"count"`
}

// DayPartBucket is spending grouped by time of day.
type DayPartBucket struct {
	Part  string          `json:"part"`
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// AnalyticsReport is the full spending report for one account.
type AnalyticsReport struct {
	Summary         Summary               `json:"summary"`
	Categories      []CategoryBreakdown   `json:"categories"`
	MonthlyTrend    []MonthPoint          `json:"monthly_trend"`
	PaymentAccounts []AccountDistribution `json:"payment_accounts"`
	TimeOfDay       []DayPartBucket       `json:"time_of_day"`
	GeneratedAt     int64                 `json:"generated_at"`
}

// emptyReport returns a report with every section present but empty, so
// callers always render a complete shape even when queries fail.
func emptyReport() *AnalyticsReport {
	return &AnalyticsReport{
		Categories:      []CategoryBreakdown{},
		MonthlyTrend:    []MonthPoint{},
		PaymentAccounts: []AccountDistribution{},
		TimeOfDay:       []DayPartBucket{},
	}
}

// Analytics builds the spending report for an account over [startDate,
// endDate]. Reports are cached longer than record pages because they
// aggregate and tolerate slight staleness. On failure an empty but
// fully shaped report is returned alongside the error.
func (s *Service) Analytics(ctx context.Context, accountID string, startDate, endDate int64) (*AnalyticsReport, error) {
	if accountID == "" {
		return emptyReport(), apperrors.New(apperrors.ErrValidation, "account_id is required")
	}

	cacheKey := fmt.Sprintf("analytics:%s:report:%d:%d", accountID, startDate, endDate)
	if cached, ok := s.store.Cache().Get(cacheKey); ok {
		if report, ok := cached.(*AnalyticsReport); ok {
			return report, nil
		}
	}

	report := emptyReport()
	err := s.store.Stats().Timed("analytics_report", func() error {
		return s.store.WithConn(ctx, func(conn *sql.Conn) error {
			if err := s.loadSummary(ctx, conn, report, accountID, startDate, endDate); err != nil {
				return err
			}
			if err := s.loadCategories(ctx, conn, report, accountID, startDate, endDate); err != nil {
				return err
			}
			if err := s.loadMonthlyTrend(ctx, conn, report, accountID); err != nil {
				return err
			}
			if err := s.loadAccountDistribution(ctx, conn, report, accountID, startDate, endDate); err != nil {
				return err
			}
			return s.loadTimeOfDay(ctx, conn, report, accountID, startDate, endDate)
		})
	})
	if err != nil {
		logging.Error("analytics report degraded", err, map[string]interface{}{
			"account_id": accountID,
		})
		return emptyReport(), err
	}

	report.GeneratedAt = s.now().Unix()
	s.store.Cache().Set(cacheKey, report, s.analyticsTTL)
	return report, nil
}

func (s *Service) loadSummary(ctx context.Context, conn *sql.Conn, report *AnalyticsReport, accountID string, startDate, endDate int64) error {
	row := conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN record_type = ? THEN CAST(amount AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN record_type = ? THEN CAST(amount AS REAL) ELSE 0 END), 0),
			COUNT(*),
			COALESCE(SUM(CASE WHEN record_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN record_type = ? THEN CAST(amount AS REAL) END), 0),
			COALESCE(MAX(CASE WHEN record_type = ? THEN CAST(amount AS REAL) END), 0),
			COALESCE(MIN(CASE WHEN record_type = ? THEN CAST(amount AS REAL) END), 0)
		FROM records
		WHERE account_id = ? AND is_deleted = 0 AND record_date BETWEEN ? AND ?`,
		string(models.RecordTypeIncome), string(models.RecordTypeExpense),
		string(models.RecordTypeExpense), string(models.RecordTypeExpense),
		string(models.RecordTypeExpense), string(models.RecordTypeExpense),
		accountID, startDate, endDate)

	var income, expense, avg, max, min float64
	err := row.Scan(&income, &expense, &report.Summary.RecordCount,
		&report.Summary.ExpenseCount, &avg, &max, &min)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "aggregate summary", err)
	}
	report.Summary.TotalIncome = decimal.NewFromFloat(income)
	report.Summary.TotalExpense = decimal.NewFromFloat(expense)
	report.Summary.NetIncome = report.Summary.TotalIncome.Sub(report.Summary.TotalExpense)
	report.Summary.AvgExpense = decimal.NewFromFloat(avg)
	report.Summary.MaxExpense = decimal.NewFromFloat(max)
	report.Summary.MinExpense = decimal.NewFromFloat(min)
	return nil
}

func (s *Service) loadCategories(ctx context.Context, conn *sql.Conn, report *AnalyticsReport, accountID string, startDate, endDate int64) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT r.category_id, COALESCE(c.name, ''),
		       COALESCE(SUM(CAST(r.amount AS REAL)), 0), COUNT(*)
		FROM records r
		LEFT JOIN categories c ON r.category_id = c.id
		WHERE r.account_id = ? AND r.is_deleted = 0 AND r.record_type = ?
		  AND r.record_date BETWEEN ? AND ?
		GROUP BY r.category_id, c.name
		ORDER BY SUM(CAST(r.amount AS REAL)) DESC`,
		accountID, string(models.RecordTypeExpense), startDate, endDate)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "aggregate categories", err)
	}
	defer rows.Close()

	var grandTotal float64
	type rawBreakdown struct {
		breakdown CategoryBreakdown
		total     float64
	}
	var raw []rawBreakdown
	for rows.Next() {
		var b CategoryBreakdown
		var total float64
		if err := rows.Scan(&b.CategoryID, &b.CategoryName, &total, &b.Count); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "scan category breakdown", err)
		}
		b.Total = decimal.NewFromFloat(total)
		raw = append(raw, rawBreakdown{breakdown: b, total: total})
		grandTotal += total
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "iterate category breakdown", err)
	}

	for _, entry := range raw {
		if grandTotal > 0 {
			entry.breakdown.Percentage = entry.total / grandTotal * 100
		}
		report.Categories = append(report.Categories, entry.breakdown)
	}
	return nil
}

func (s *Service) loadMonthlyTrend(ctx context.Context, conn *sql.Conn, report *AnalyticsReport, accountID string) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT strftime('%Y-%m', record_date, 'unixepoch') AS month,
		       COALESCE(SUM(CASE WHEN record_type = ? THEN CAST(amount AS REAL) ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN record_type = ? THEN CAST(amount AS REAL) ELSE 0 END), 0)
		FROM records
		WHERE account_id = ? AND is_deleted = 0
		GROUP BY month
		ORDER BY month DESC
		LIMIT 12`,
		string(models.RecordTypeIncome), string(models.RecordTypeExpense), accountID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "aggregate monthly trend", err)
	}
	defer rows.Close()

	var trend []MonthPoint
	for rows.Next() {
		var point MonthPoint
		var income, expense float64
		if err := rows.Scan(&point.Month, &income, &expense); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "scan monthly trend", err)
		}
		point.Income = decimal.NewFromFloat(income)
		point.Expense = decimal.NewFromFloat(expense)
		trend = append(trend, point)
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "iterate monthly trend", err)
	}

	// Oldest first for charting.
	for i := len(trend) - 1; i >= 0; i-- {
		report.MonthlyTrend = append(report.MonthlyTrend, trend[i])
	}
	return nil
}

func (s *Service) loadAccountDistribution(ctx context.Context, conn *sql.Conn, report *AnalyticsReport, accountID string, startDate, endDate int64) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT r.payment_account_id, COALESCE(pa.name, ''),
		       COALESCE(SUM(CAST(r.amount AS REAL)), 0), COUNT(*)
		FROM records r
		LEFT JOIN payment_accounts pa ON r.payment_account_id = pa.id
		WHERE r.account_id = ? AND r.is_deleted = 0 AND r.record_type = ?
		  AND r.record_date BETWEEN ? AND ?
		GROUP BY r.payment_account_id, pa.name
		ORDER BY SUM(CAST(r.amount AS REAL)) DESC`,
		accountID, string(models.RecordTypeExpense), startDate, endDate)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "aggregate payment accounts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d AccountDistribution
		var total float64
		if err := rows.Scan(&d.PaymentAccountID, &d.PaymentAccountName, &total, &d.Count); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "scan payment account distribution", err)
		}
		d.Total = decimal.NewFromFloat(total)
		report.PaymentAccounts = append(report.PaymentAccounts, d)
	}
	return rows.Err()
}

func (s *Service) loadTimeOfDay(ctx context.Context, conn *sql.Conn, report *AnalyticsReport, accountID string, startDate, endDate int64) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT
			CASE
				WHEN CAST(strftime('%H', record_date, 'unixepoch') AS INTEGER) BETWEEN 6 AND 11 THEN 'morning'
				WHEN CAST(strftime('%H', record_date, 'unixepoch') AS INTEGER) BETWEEN 12 AND 17 THEN 'afternoon'
				WHEN CAST(strftime('%H', record_date, 'unixepoch') AS INTEGER) BETWEEN 18 AND 23 THEN 'evening'
				ELSE 'night'
			END AS part,
			COUNT(*), COALESCE(SUM(CAST(amount AS REAL)), 0)
		FROM records
		WHERE account_id = ? AND is_deleted = 0 AND record_type = ?
		  AND record_date BETWEEN ? AND ?
		GROUP BY part`,
		accountID, string(models.RecordTypeExpense), startDate, endDate)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "aggregate time of day", err)
	}
	defer rows.Close()

	buckets := make(map[string]DayPartBucket)
	for rows.Next() {
		var bucket DayPartBucket
		var total float64
		if err := rows.Scan(&bucket.Part, &bucket.Count, &total); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "scan time of day bucket", err)
		}
		bucket.Total = decimal.NewFromFloat(total)
		buckets[bucket.Part] = bucket
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "iterate time of day buckets", err)
	}

	// Fixed presentation order, empty buckets included.
	for _, part := range []string{"morning", "afternoon", "evening", "night"} {
		bucket, ok := buckets[part]
		if !ok {
			bucket = DayPartBucket{Part: part, Total: decimal.Zero}
		}
		report.TimeOfDay = append(report.TimeOfDay, bucket)
	}
	return nil
}
