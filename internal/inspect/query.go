package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	QueryTimeout  = 30 * time.Second
	QueryRowLimit = 1000
)

var (
	ErrEmptyQuery     = errors.New("missing sql")
	ErrNotSelect      = errors.New("only SELECT queries allowed")
	ErrMultiStatement = errors.New("multi-statement queries not allowed")
)

// QueryResult is the JSON shape of a query answer.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// ValidateQuery accepts a single SELECT (or WITH ... SELECT) statement and
// appends a row limit when the query has none.
func ValidateQuery(sql string) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", ErrEmptyQuery
	}
	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", ErrNotSelect
	}
	if strings.Contains(sql, ";") {
		return "", ErrMultiStatement
	}
	if !strings.Contains(upper, "LIMIT") {
		sql = fmt.Sprintf("%s LIMIT %d", sql, QueryRowLimit)
	}
	return sql, nil
}

// Query runs a validated read-only statement against the registered tables.
func (in *Inspector) Query(ctx context.Context, sql string) (*QueryResult, error) {
	sql, err := ValidateQuery(sql)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	rows, err := in.sess.DB().QueryContext(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: cols, Rows: []map[string]any{}}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	result.Count = len(result.Rows)
	return result, nil
}
