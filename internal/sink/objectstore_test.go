package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryBucket is an in-memory objectClient.
type memoryBucket struct {
	mu          sync.Mutex
	objects     map[string]string
	putFailures int
	listErr     error

	lists int
	puts  int
}

func newMemoryBucket(keys ...string) *memoryBucket {
	b := &memoryBucket{objects: map[string]string{}}
	for _, k := range keys {
		b.objects[k] = ""
	}
	return b
}

func (b *memoryBucket) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++

	var matched []minio.ObjectInfo
	for k := range b.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			matched = append(matched, minio.ObjectInfo{Key: k})
		}
	}
	if b.listErr != nil {
		matched = append(matched, minio.ObjectInfo{Err: b.listErr})
	}
	out := make(chan minio.ObjectInfo, len(matched))
	for _, obj := range matched {
		out <- obj
	}
	close(out)
	return out
}

func (b *memoryBucket) RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	out := make(chan minio.RemoveObjectError)
	go func() {
		defer close(out)
		for obj := range objects {
			b.mu.Lock()
			delete(b.objects, obj.Key)
			b.mu.Unlock()
		}
	}()
	return out
}

func (b *memoryBucket) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.putFailures > 0 {
		b.putFailures--
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	b.objects[object] = filePath
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func (b *memoryBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newTestObjectStore(t *testing.T, client objectClient, retries int) *ObjectStore {
	t.Helper()
	o := newObjectStore(client, "bucket", "lake", t.TempDir(), retries, zap.NewNop())
	o.backOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return o
}

func stageFile(t *testing.T, o *ObjectStore, table, rel string) string {
	t.Helper()
	dir, err := o.Stage(table)
	require.NoError(t, err)
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("PAR1"), 0o644))
	return dir
}

func TestObjectStorePublishReplacesTable(t *testing.T) {
	bucket := newMemoryBucket(
		"lake/song/year=2017/old.parquet",
		"lake/songplay/year=2018/month=11/keep.parquet",
	)
	o := newTestObjectStore(t, bucket, 3)

	staged := stageFile(t, o, "song", "year=2018/artist_id=AR1/part-0.parquet")
	loc, err := o.Publish(context.Background(), "song", staged)
	require.NoError(t, err)

	assert.Equal(t, "s3://bucket/lake/song", loc)
	assert.Equal(t, []string{
		"lake/song/year=2018/artist_id=AR1/part-0.parquet",
		"lake/songplay/year=2018/month=11/keep.parquet",
	}, bucket.keys())
	assert.Equal(t, 1, bucket.lists)
	assert.Equal(t, 1, bucket.puts)
}

func TestObjectStorePublishRetries(t *testing.T) {
	tests := []struct {
		name        string
		retries     int
		putFailures int
		wantErr     bool
		wantLists   int
		wantPuts    int
	}{
		{name: "first attempt fails", retries: 3, putFailures: 1, wantLists: 2, wantPuts: 2},
		{name: "every attempt fails", retries: 3, putFailures: 10, wantErr: true, wantLists: 3, wantPuts: 3},
		{name: "single attempt", retries: 1, putFailures: 1, wantErr: true, wantLists: 1, wantPuts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := newMemoryBucket("lake/time/year=2018/month=11/old.parquet")
			bucket.putFailures = tt.putFailures
			o := newTestObjectStore(t, bucket, tt.retries)

			staged := stageFile(t, o, "time", "year=2018/month=11/part-0.parquet")
			_, err := o.Publish(context.Background(), "time", staged)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorContains(t, err, "connection reset")
			} else {
				require.NoError(t, err)
				assert.Equal(t, []string{"lake/time/year=2018/month=11/part-0.parquet"}, bucket.keys())
			}
			assert.Equal(t, tt.wantLists, bucket.lists)
			assert.Equal(t, tt.wantPuts, bucket.puts)
		})
	}
}

func TestObjectStoreListFailure(t *testing.T) {
	bucket := newMemoryBucket("lake/user/a.parquet", "lake/user/b.parquet")
	bucket.listErr = errors.New("access denied")
	o := newTestObjectStore(t, bucket, 2)

	staged := stageFile(t, o, "user", "part-0.parquet")
	_, err := o.Publish(context.Background(), "user", staged)
	require.Error(t, err)
	assert.ErrorContains(t, err, "listing lake/user/")
	assert.ErrorContains(t, err, "access denied")

	assert.Equal(t, 2, bucket.lists)
	assert.Zero(t, bucket.puts)
	// Objects listed before the failure are still removed.
	assert.Empty(t, bucket.keys())
}
