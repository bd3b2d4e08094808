package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Format selects the reader used by Load.
type Format int

const (
	// FormatJSON reads newline-delimited JSON records or JSON arrays.
	FormatJSON Format = iota
	// FormatParquet reads Parquet files, restoring hive partition columns.
	FormatParquet
)

func (f Format) String() string {
	if f == FormatParquet {
		return "parquet"
	}
	return "json"
}

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
}

// Schema is an ordered column list.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// lookup finds a column by name. DuckDB resolves identifiers
// case-insensitively, so lookups do too.
func (s Schema) lookup(name string) (Column, bool) {
	for _, c := range s {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Table is a named relation in a Session.
type Table struct {
	s    *Session
	name string
	cols Schema
}

// Columns returns the table schema.
func (t *Table) Columns() Schema {
	out := make(Schema, len(t.cols))
	copy(out, t.cols)
	return out
}

// Load reads every file matching pattern into a materialized table.
// With a non-nil schema, JSON keys outside the schema are ignored and missing
// keys become NULL; with a nil schema the column set is inferred. Records that
// fail to parse are skipped in newline-delimited files.
func (s *Session) Load(ctx context.Context, pattern string, format Format, schema Schema) (*Table, error) {
	op := fmt.Sprintf("load %s %s", format, pattern)

	files, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, newError(KindInputNotFound, op, err)
	}
	if len(files) == 0 {
		return nil, newError(KindInputNotFound, op, ErrNoInputData)
	}
	sort.Strings(files)

	var query string
	switch format {
	case FormatParquet:
		cols := "*"
		if len(schema) > 0 {
			cols = castList(schema)
		}
		query = fmt.Sprintf("SELECT %s FROM read_parquet(%s, hive_partitioning = true, union_by_name = true)",
			cols, fileList(files))
	default:
		query, err = jsonQuery(files, schema)
		if err != nil {
			return nil, newError(KindInputNotFound, op, err)
		}
	}
	return s.derive(ctx, op, query, true)
}

// ReadParquet reads back a table written by WritePartitioned.
func (s *Session) ReadParquet(ctx context.Context, dir string) (*Table, error) {
	return s.Load(ctx, strings.TrimRight(dir, "/")+"/**/*.parquet", FormatParquet, nil)
}

// Empty returns a zero-row table with the given schema.
func (s *Session) Empty(ctx context.Context, schema Schema) (*Table, error) {
	if len(schema) == 0 {
		return nil, newError(KindSchema, "empty table", errors.New("schema has no columns"))
	}
	query := fmt.Sprintf("SELECT %s WHERE FALSE", nullList(schema))
	return s.derive(ctx, "empty table", query, false)
}

// View returns the table registered under name.
func (s *Session) View(ctx context.Context, name string) (*Table, error) {
	op := "view " + name
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ? AND table_type = 'VIEW'",
		name).Scan(&count)
	if err != nil {
		return nil, newError(KindInfrastructure, op, err)
	}
	if count == 0 {
		return nil, newError(KindSchema, op, ErrViewNotRegistered)
	}
	cols, err := s.describe(ctx, name)
	if err != nil {
		return nil, newError(KindInfrastructure, op, err)
	}
	return &Table{s: s, name: name, cols: cols}, nil
}

// RegisterView exposes the table under a stable name for later View calls
// and ad-hoc SQL.
func (t *Table) RegisterView(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", quoteIdent(name), quoteIdent(t.name))
	if _, err := t.s.db.ExecContext(ctx, stmt); err != nil {
		return newError(KindInfrastructure, "register view "+name, err)
	}
	return nil
}

// Project keeps the named columns in the given order.
func (t *Table) Project(ctx context.Context, columns ...string) (*Table, error) {
	resolved, err := t.resolve("project", columns...)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", quoteIdents(resolved), quoteIdent(t.name))
	return t.s.derive(ctx, "project", query, false)
}

// Filter keeps the rows matching p.
func (t *Table) Filter(ctx context.Context, p Predicate) (*Table, error) {
	if _, err := t.resolve("filter", p.refs...); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", quoteIdent(t.name), p.sql)
	return t.s.derive(ctx, "filter", query, false)
}

// WithColumn adds a computed column, replacing any column of the same name.
func (t *Table) WithColumn(ctx context.Context, name string, e Expr) (*Table, error) {
	if _, err := t.resolve("with column "+name, e.refs...); err != nil {
		return nil, err
	}
	var query string
	if existing, ok := t.cols.lookup(name); ok {
		query = fmt.Sprintf("SELECT * REPLACE (%s AS %s) FROM %s", e.sql, quoteIdent(existing.Name), quoteIdent(t.name))
	} else {
		query = fmt.Sprintf("SELECT *, %s AS %s FROM %s", e.sql, quoteIdent(name), quoteIdent(t.name))
	}
	return t.s.derive(ctx, "with column "+name, query, false)
}

// Join inner-joins t with other on keys. The result carries every column of
// t followed by the columns of other whose names do not collide with t.
func (t *Table) Join(ctx context.Context, other *Table, keys ...JoinKey) (*Table, error) {
	if len(keys) == 0 {
		return nil, newError(KindSchema, "join", errors.New("no join keys"))
	}

	conds := make([]string, len(keys))
	for i, k := range keys {
		left, ok := t.cols.lookup(k.Left)
		if !ok {
			return nil, newError(KindSchema, "join", fmt.Errorf("%w: %s", ErrUnknownColumn, k.Left))
		}
		right, ok := other.cols.lookup(k.Right)
		if !ok {
			return nil, newError(KindSchema, "join", fmt.Errorf("%w: %s", ErrUnknownColumn, k.Right))
		}
		conds[i] = fmt.Sprintf("l.%s = r.%s", quoteIdent(left.Name), quoteIdent(right.Name))
	}

	selects := []string{"l.*"}
	for _, c := range other.cols {
		if _, clash := t.cols.lookup(c.Name); clash {
			continue
		}
		selects = append(selects, "r."+quoteIdent(c.Name))
	}

	query := fmt.Sprintf("SELECT %s FROM %s AS l JOIN %s AS r ON %s",
		strings.Join(selects, ", "), quoteIdent(t.name), quoteIdent(other.name), strings.Join(conds, " AND "))
	return t.s.derive(ctx, "join", query, false)
}

// Distinct drops exact duplicate rows.
func (t *Table) Distinct(ctx context.Context) (*Table, error) {
	query := "SELECT DISTINCT * FROM " + quoteIdent(t.name)
	return t.s.derive(ctx, "distinct", query, false)
}

// LatestBy keeps one row per key: the greatest by orderBy, compared
// column by column. NULLs sort last.
func (t *Table) LatestBy(ctx context.Context, key string, orderBy ...string) (*Table, error) {
	if len(orderBy) == 0 {
		return nil, newError(KindSchema, "latest by "+key, errors.New("no ordering columns"))
	}
	resolved, err := t.resolve("latest by "+key, append([]string{key}, orderBy...)...)
	if err != nil {
		return nil, err
	}
	order := make([]string, len(orderBy))
	for i, c := range resolved[1:] {
		order[i] = quoteIdent(c) + " DESC NULLS LAST"
	}
	query := fmt.Sprintf("SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s) = 1",
		quoteIdent(t.name), quoteIdent(resolved[0]), strings.Join(order, ", "))
	return t.s.derive(ctx, "latest by "+key, query, false)
}

// Count returns the number of rows.
func (t *Table) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := t.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(t.name)).Scan(&n); err != nil {
		return 0, newError(KindInfrastructure, "count", err)
	}
	return n, nil
}

// Rows scans the whole table into maps keyed by column name, ordered by the
// given columns when any are named.
func (t *Table) Rows(ctx context.Context, orderBy ...string) ([]map[string]any, error) {
	query := "SELECT * FROM " + quoteIdent(t.name)
	if len(orderBy) > 0 {
		resolved, err := t.resolve("rows", orderBy...)
		if err != nil {
			return nil, err
		}
		query += " ORDER BY " + quoteIdents(resolved)
	}

	rows, err := t.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newError(KindInfrastructure, "rows", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, newError(KindInfrastructure, "rows", err)
	}

	var results []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newError(KindInfrastructure, "rows", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(KindInfrastructure, "rows", err)
	}
	return results, nil
}

// resolve maps names onto the table's canonical column names.
func (t *Table) resolve(op string, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		c, ok := t.cols.lookup(n)
		if !ok {
			return nil, newError(KindSchema, op, fmt.Errorf("%w: %s", ErrUnknownColumn, n))
		}
		out[i] = c.Name
	}
	return out, nil
}

// derive creates a relation from query and captures its schema. Loaded
// inputs are materialized as tables; everything else is a view.
func (s *Session) derive(ctx context.Context, op, query string, materialize bool) (*Table, error) {
	name := s.nextName()
	kind := "VIEW"
	if materialize {
		kind = "TABLE"
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE %s %s AS %s", kind, quoteIdent(name), query)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return nil, newError(KindInfrastructure, op, err)
	}
	cols, err := s.describe(ctx, name)
	if err != nil {
		return nil, newError(KindInfrastructure, op, err)
	}
	return &Table{s: s, name: name, cols: cols}, nil
}

func (s *Session) describe(ctx context.Context, name string) (Schema, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position",
		name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols Schema
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// columnsStruct renders a schema as a read_json columns struct literal.
func columnsStruct(schema Schema) string {
	parts := make([]string, len(schema))
	for i, c := range schema {
		parts[i] = fmt.Sprintf("%s: %s", quoteLiteral(c.Name), quoteLiteral(c.Type))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func castList(schema Schema) string {
	parts := make([]string, len(schema))
	for i, c := range schema {
		parts[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", quoteIdent(c.Name), c.Type, quoteIdent(c.Name))
	}
	return strings.Join(parts, ", ")
}

func nullList(schema Schema) string {
	parts := make([]string, len(schema))
	for i, c := range schema {
		parts[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", c.Type, quoteIdent(c.Name))
	}
	return strings.Join(parts, ", ")
}

// jsonQuery reads newline-delimited files and array files with their own
// explicit format. Only newline-delimited input can skip malformed records,
// one line at a time; array files must parse as a whole.
func jsonQuery(files []string, schema Schema) (string, error) {
	groups := map[string][]string{}
	for _, f := range files {
		layout, err := sniffJSONLayout(f)
		if err != nil {
			return "", err
		}
		groups[layout] = append(groups[layout], f)
	}

	var selects []string
	for _, layout := range []string{layoutNDJSON, layoutArray} {
		group := groups[layout]
		if len(group) == 0 {
			continue
		}
		opts := "format = '" + layout + "'"
		if layout == layoutNDJSON {
			opts += ", ignore_errors = true"
		}
		var reader string
		if len(schema) == 0 {
			reader = fmt.Sprintf("read_json_auto(%s, %s, union_by_name = true)", fileList(group), opts)
		} else {
			reader = fmt.Sprintf("read_json(%s, %s, columns = %s)", fileList(group), opts, columnsStruct(schema))
		}
		selects = append(selects, "SELECT * FROM "+reader)
	}
	return strings.Join(selects, " UNION ALL BY NAME "), nil
}

const (
	layoutNDJSON = "newline_delimited"
	layoutArray  = "array"
)

// sniffJSONLayout reports whether a file holds a JSON array or one record per
// line, judged by its first non-space byte.
func sniffJSONLayout(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			return layoutNDJSON, nil
		}
		if err != nil {
			return "", err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		case '[':
			return layoutArray, nil
		default:
			return layoutNDJSON, nil
		}
	}
}

func fileList(files []string) string {
	list := make([]string, len(files))
	for i, f := range files {
		list[i] = quoteLiteral(f)
	}
	return "[" + strings.Join(list, ", ") + "]"
}
