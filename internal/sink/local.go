package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// stagingDirName holds in-progress tables below a local output root.
const stagingDirName = ".staging"

// Local publishes tables below a directory on the local filesystem.
type Local struct {
	root    string
	staging string
}

// NewLocal creates root if needed and clears staging left by a failed run.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving output root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating output root: %w", err)
	}
	l := &Local{root: abs, staging: filepath.Join(abs, stagingDirName)}
	if err := l.Cleanup(); err != nil {
		return nil, fmt.Errorf("clearing staging: %w", err)
	}
	return l, nil
}

// Root returns the absolute output root.
func (l *Local) Root() string {
	return l.root
}

// Stage returns <root>/.staging/<table>, emptied.
func (l *Local) Stage(table string) (string, error) {
	dir := filepath.Join(l.staging, table)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("staging %s: %w", table, err)
	}
	if err := os.MkdirAll(l.staging, 0o755); err != nil {
		return "", fmt.Errorf("staging %s: %w", table, err)
	}
	return dir, nil
}

// Publish renames the staged directory to <root>/<table>. Staging lives on
// the same filesystem as the root, so the rename does not copy.
func (l *Local) Publish(_ context.Context, table, staged string) (string, error) {
	dest := filepath.Join(l.root, table)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("publishing %s: %w", table, err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return "", fmt.Errorf("publishing %s: %w", table, err)
	}
	return dest, nil
}

// Cleanup removes the staging directory.
func (l *Local) Cleanup() error {
	return os.RemoveAll(l.staging)
}
