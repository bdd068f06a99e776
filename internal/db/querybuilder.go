// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"fmt"
	"strings"

	apperrors "github.com/yuchia/localledger/internal/errors"
)

// QueryBuilder assembles parameterized SELECT statements. Literal values
// never reach the statement text; every value travels as a placeholder
// argument. A builder is reusable after Reset and is not safe for
// concurrent use.
type QueryBuilder struct {
	selectFields []string
	fromTable    string
	joins        []string
	whereConds   []string
	groupBy      []string
	havingConds  []string
	orderBy      []string
	limitClause  string
	args         []interface{}
}

// NewQueryBuilder creates an empty QueryBuilder.
func NewQueryBuilder() *QueryBuilder {
	qb := &QueryBuilder{}
	return qb.Reset()
}

// Reset clears all accumulated state and returns the builder.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.selectFields = nil
	qb.fromTable = ""
	qb.joins = nil
	qb.whereConds = nil
	qb.groupBy = nil
	qb.havingConds = nil
	qb.orderBy = nil
	qb.limitClause = ""
	qb.args = nil
	return qb
}

// Select appends select expressions.
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	qb.selectFields = append(qb.selectFields, fields...)
	return qb
}

// From sets the target table with an optional alias.
func (qb *QueryBuilder) From(table string, alias ...string) *QueryBuilder {
	qb.fromTable = table
	if len(alias) > 0 && alias[0] != "" {
		qb.fromTable = table + " " + alias[0]
	}
	return qb
}

// LeftJoin appends a LEFT JOIN clause.
func (qb *QueryBuilder) LeftJoin(table, condition string) *QueryBuilder {
	qb.joins = append(qb.joins, fmt.Sprintf("LEFT JOIN %s ON %s", table, condition))
	return qb
}

// InnerJoin appends an INNER JOIN clause.
func (qb *QueryBuilder) InnerJoin(table, condition string) *QueryBuilder {
	qb.joins = append(qb.joins, fmt.Sprintf("INNER JOIN %s ON %s", table, condition))
	return qb
}

// Where appends a condition. The condition text must use ? placeholders
// for every value.
func (qb *QueryBuilder) Where(condition string, args ...interface{}) *QueryBuilder {
	qb.whereConds = append(qb.whereConds, condition)
	qb.args = append(qb.args, args...)
	return qb
}

// WhereIn appends an IN condition with one placeholder per value. Empty
// value sets are ignored.
func (qb *QueryBuilder) WhereIn(field string, values []interface{}) *QueryBuilder {
	if len(values) == 0 {
		return qb
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	qb.whereConds = append(qb.whereConds, fmt.Sprintf("%s IN (%s)", field, placeholders))
	qb.args = append(qb.args, values...)
	return qb
}

// WhereBetween appends a BETWEEN condition.
func (qb *QueryBuilder) WhereBetween(field string, start, end interface{}) *QueryBuilder {
	qb.whereConds = append(qb.whereConds, fmt.Sprintf("%s BETWEEN ? AND ?", field))
	qb.args = append(qb.args, start, end)
	return qb
}

// GroupBy appends grouping expressions.
func (qb *QueryBuilder) GroupBy(fields ...string) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, fields...)
	return qb
}

// Having appends a HAVING condition with placeholder args.
func (qb *QueryBuilder) Having(condition string, args ...interface{}) *QueryBuilder {
	qb.havingConds = append(qb.havingConds, condition)
	qb.args = append(qb.args, args...)
	return qb
}

// OrderBy appends an ordering expression. Direction must be "ASC" or
// "DESC"; anything else falls back to "ASC".
func (qb *QueryBuilder) OrderBy(field, direction string) *QueryBuilder {
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	qb.orderBy = append(qb.orderBy, field+" "+dir)
	return qb
}

// Limit sets the LIMIT clause with an optional offset.
func (qb *QueryBuilder) Limit(count int, offset ...int) *QueryBuilder {
	if len(offset) > 0 && offset[0] > 0 {
		qb.limitClause = fmt.Sprintf("LIMIT %d OFFSET %d", count, offset[0])
	} else {
		qb.limitClause = fmt.Sprintf("LIMIT %d", count)
	}
	return qb
}

// Build assembles the final statement text and its ordered arguments.
// Fails when no target table was set.
func (qb *QueryBuilder) Build() (string, []interface{}, error) {
	if qb.fromTable == "" {
		return "", nil, apperrors.New(apperrors.ErrMissingTable, "query builder requires a FROM table")
	}

	selectClause := "SELECT *"
	if len(qb.selectFields) > 0 {
		selectClause = "SELECT " + strings.Join(qb.selectFields, ", ")
	}

	parts := []string{selectClause, "FROM " + qb.fromTable}
	parts = append(parts, qb.joins...)

	if len(qb.whereConds) > 0 {
		parts = append(parts, "WHERE "+strings.Join(qb.whereConds, " AND "))
	}
	if len(qb.groupBy) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(qb.groupBy, ", "))
	}
	if len(qb.havingConds) > 0 {
		parts = append(parts, "HAVING "+strings.Join(qb.havingConds, " AND "))
	}
	if len(qb.orderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(qb.orderBy, ", "))
	}
	if qb.limitClause != "" {
		parts = append(parts, qb.limitClause)
	}

	args := make([]interface{}, len(qb.args))
	copy(args, qb.args)

	return strings.Join(parts, " "), args, nil
}
