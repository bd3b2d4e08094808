// Package sink publishes finished tables to their canonical output location.
//
// The engine always writes into a local staging directory. A sink then moves
// the staged directory into place, replacing whatever the table held before.
package sink

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Sink stages and publishes table directories.
type Sink interface {
	// Stage returns an empty local directory for the table's files.
	Stage(table string) (string, error)
	// Publish replaces the table's output with the staged directory and
	// returns the final location.
	Publish(ctx context.Context, table, staged string) (string, error)
	// Cleanup removes staging leftovers.
	Cleanup() error
}

// Credentials authenticate against an S3-compatible object store.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	UseSSL          bool
}

// IsObjectStoreURL reports whether output names an object store location.
func IsObjectStoreURL(output string) bool {
	return strings.HasPrefix(output, "s3://") || strings.HasPrefix(output, "s3a://")
}

// New returns the sink for output: an object store for s3:// URLs, the local
// filesystem otherwise.
func New(ctx context.Context, output string, creds Credentials, retries int, log *zap.Logger) (Sink, error) {
	if IsObjectStoreURL(output) {
		return NewObjectStore(ctx, output, creds, retries, log)
	}
	return NewLocal(output)
}
