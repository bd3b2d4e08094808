package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPublishReplacesTable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	l, err := NewLocal(root)
	require.NoError(t, err)

	stage := func(content string) string {
		dir, err := l.Stage("song")
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "year=2018"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "year=2018", content), []byte(content), 0o644))
		return dir
	}

	loc, err := l.Publish(ctx, "song", stage("first.parquet"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "song"), loc)
	assert.FileExists(t, filepath.Join(loc, "year=2018", "first.parquet"))

	_, err = l.Publish(ctx, "song", stage("second.parquet"))
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(loc, "year=2018", "first.parquet"))
	assert.FileExists(t, filepath.Join(loc, "year=2018", "second.parquet"))

	require.NoError(t, l.Cleanup())
	assert.NoDirExists(t, filepath.Join(l.Root(), stagingDirName))
}

func TestNewLocalClearsLeftoverStaging(t *testing.T) {
	root := t.TempDir()
	leftover := filepath.Join(root, stagingDirName, "time")
	require.NoError(t, os.MkdirAll(leftover, 0o755))

	_, err := NewLocal(root)
	require.NoError(t, err)
	assert.NoDirExists(t, leftover)
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{name: "bucket only", raw: "s3://lake", wantBucket: "lake"},
		{name: "bucket and prefix", raw: "s3://lake/sparkify/out/", wantBucket: "lake", wantPrefix: "sparkify/out"},
		{name: "s3a scheme", raw: "s3a://udacity-datalake-proj/", wantBucket: "udacity-datalake-proj"},
		{name: "wrong scheme", raw: "gs://lake/x", wantErr: true},
		{name: "missing bucket", raw: "s3:///x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, prefix, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestTablePrefix(t *testing.T) {
	assert.Equal(t, "songplays/", tablePrefix("", "songplays"))
	assert.Equal(t, "out/songplays/", tablePrefix("out", "songplays"))
}

func TestIsObjectStoreURL(t *testing.T) {
	assert.True(t, IsObjectStoreURL("s3://bucket"))
	assert.True(t, IsObjectStoreURL("s3a://bucket/x"))
	assert.False(t, IsObjectStoreURL("/data/out"))
	assert.False(t, IsObjectStoreURL("output"))
}
