package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// emptyFileName is used when a table has no rows, or no partition columns.
const emptyFileName = "data_0.parquet"

// WriteResult describes files produced by WritePartitioned.
type WriteResult struct {
	Path        string
	PartitionBy []string
	Rows        int64
	Files       int
	Bytes       int64
}

// WritePartitioned writes the table as snappy-compressed Parquet under path
// using a hive layout (col=value/...). Partition columns are stored in the
// directory names, not in the files.
//
// A table with zero rows is written as one unpartitioned file so the output
// keeps its schema. With overwrite, anything already at path is removed
// first; without it, a non-empty path is an error.
func (t *Table) WritePartitioned(ctx context.Context, path string, partitionBy []string, overwrite bool) (WriteResult, error) {
	op := "write " + path
	result := WriteResult{Path: path}

	partitions, err := t.resolve(op, partitionBy...)
	if err != nil {
		return result, err
	}

	if err := prepareDir(path, overwrite); err != nil {
		return result, newError(KindWrite, op, err)
	}

	rows, err := t.Count(ctx)
	if err != nil {
		return result, err
	}
	result.Rows = rows

	var stmt string
	if rows == 0 || len(partitions) == 0 {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return result, newError(KindWrite, op, err)
		}
		target := filepath.Join(path, emptyFileName)
		stmt = fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET, COMPRESSION SNAPPY)",
			quoteIdent(t.name), quoteLiteral(target))
	} else {
		result.PartitionBy = partitions
		stmt = fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET, COMPRESSION SNAPPY, PARTITION_BY (%s), OVERWRITE_OR_IGNORE TRUE)",
			quoteIdent(t.name), quoteLiteral(path), quoteIdents(partitions))
	}

	if _, err := t.s.db.ExecContext(ctx, stmt); err != nil {
		return result, newError(KindWrite, op, err)
	}

	files, bytes, err := DirUsage(path)
	if err != nil {
		return result, newError(KindWrite, op, err)
	}
	result.Files = files
	result.Bytes = bytes
	return result, nil
}

func prepareDir(path string, overwrite bool) error {
	if overwrite {
		return os.RemoveAll(path)
	}
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("destination %s is not empty", path)
	}
	return nil
}

// DirUsage counts Parquet files and their total size below root.
func DirUsage(root string) (files int, bytes int64, err error) {
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".parquet") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}
