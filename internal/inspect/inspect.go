// Package inspect exposes written tables for read-only SQL and summary stats.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"songlake/internal/engine"
	"songlake/internal/pipeline"
)

// ErrNoTables is returned when the output root holds none of the tables.
var ErrNoTables = errors.New("no tables found")

// Inspector serves queries over the tables below an output root. Each table
// is registered as a view named after it.
type Inspector struct {
	sess   *engine.Session
	root   string
	tables []string
}

// Open registers every table present below root. Missing tables are skipped.
func Open(ctx context.Context, sess *engine.Session, root string) (*Inspector, error) {
	in := &Inspector{sess: sess, root: root}
	for _, name := range pipeline.Tables {
		dir := filepath.Join(root, name)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		tbl, err := sess.ReadParquet(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if err := tbl.RegisterView(ctx, name); err != nil {
			return nil, err
		}
		in.tables = append(in.tables, name)
	}
	if len(in.tables) == 0 {
		return nil, fmt.Errorf("%w below %s", ErrNoTables, root)
	}
	return in, nil
}

// Tables lists the registered table names in pipeline order.
func (in *Inspector) Tables() []string {
	return in.tables
}
