package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a boolean row condition used by Table.Filter.
type Predicate struct {
	sql  string
	refs []string
}

// Expr is a scalar expression used by Table.WithColumn.
type Expr struct {
	sql  string
	refs []string
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Predicate {
	return Predicate{sql: quoteIdent(column) + " = " + literal(value), refs: []string{column}}
}

// Ne matches rows whose column differs from value. NULLs never match.
func Ne(column string, value any) Predicate {
	return Predicate{sql: quoteIdent(column) + " <> " + literal(value), refs: []string{column}}
}

// NotNull matches rows where column is not NULL.
func NotNull(column string) Predicate {
	return Predicate{sql: quoteIdent(column) + " IS NOT NULL", refs: []string{column}}
}

// And matches rows satisfying every predicate.
func And(preds ...Predicate) Predicate {
	if len(preds) == 0 {
		return Predicate{sql: "TRUE"}
	}
	parts := make([]string, len(preds))
	var refs []string
	for i, p := range preds {
		parts[i] = "(" + p.sql + ")"
		refs = append(refs, p.refs...)
	}
	return Predicate{sql: strings.Join(parts, " AND "), refs: refs}
}

// Col references a column unchanged.
func Col(column string) Expr {
	return Expr{sql: quoteIdent(column), refs: []string{column}}
}

// EpochMillis converts an epoch-millisecond integer column to a TIMESTAMP (UTC).
func EpochMillis(column string) Expr {
	return Expr{sql: "epoch_ms(" + quoteIdent(column) + ")", refs: []string{column}}
}

// EpochMillisDate converts an epoch-millisecond integer column to a DATE (UTC).
func EpochMillisDate(column string) Expr {
	return Expr{sql: "CAST(epoch_ms(" + quoteIdent(column) + ") AS DATE)", refs: []string{column}}
}

// DatePart extracts a calendar field from a DATE or TIMESTAMP column.
// Supported parts: year, month, day, week (ISO week), hour.
func DatePart(part, column string) Expr {
	return Expr{
		sql:  fmt.Sprintf("date_part(%s, %s)", quoteLiteral(part), quoteIdent(column)),
		refs: []string{column},
	}
}

// JoinKey pairs a column of the left table with a column of the right table.
type JoinKey struct {
	Left  string
	Right string
}

// On builds a JoinKey.
func On(left, right string) JoinKey {
	return JoinKey{Left: left, Right: right}
}

// quoteIdent quotes a DuckDB identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral quotes a DuckDB string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders a Go value as a SQL literal. Views cannot carry bound
// parameters, so predicate values are inlined.
func literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteLiteral(val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return quoteLiteral(fmt.Sprint(val))
	}
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
