package inspect

import (
	"context"
	"fmt"
	"path/filepath"

	"songlake/internal/engine"
	"songlake/internal/history"
)

// Stats summarizes the output root.
type Stats struct {
	Root    string       `json:"root"`
	Tables  []TableStats `json:"tables"`
	LastRun *history.Run `json:"last_run,omitempty"`
}

// TableStats describes one table on disk.
type TableStats struct {
	Name      string `json:"name"`
	Rows      int64  `json:"rows"`
	Files     int    `json:"files"`
	SizeBytes int64  `json:"size_bytes"`
}

// Stats counts rows through the registered views and sizes each table
// directory.
func (in *Inspector) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Root: in.root}
	for _, name := range in.tables {
		tbl, err := in.sess.View(ctx, name)
		if err != nil {
			return nil, err
		}
		rows, err := tbl.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		files, size, err := engine.DirUsage(filepath.Join(in.root, name))
		if err != nil {
			return nil, fmt.Errorf("sizing %s: %w", name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{Name: name, Rows: rows, Files: files, SizeBytes: size})
	}
	return stats, nil
}
