package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	defaultEndpoint    = "s3.amazonaws.com"
	parquetContentType = "application/vnd.apache.parquet"
)

// ErrInvalidURL is returned for object store URLs without a bucket.
var ErrInvalidURL = errors.New("invalid object store url")

// objectClient is the part of *minio.Client that publishing uses.
type objectClient interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStore publishes tables to an S3-compatible bucket.
type ObjectStore struct {
	client  objectClient
	bucket  string
	prefix  string
	staging string
	retries uint
	backOff func() backoff.BackOff
	log     *zap.Logger
}

// ParseURL splits s3://bucket/prefix into bucket and prefix (no slashes at
// either end of prefix).
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "s3" && u.Scheme != "s3a" {
		return "", "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", ErrInvalidURL, raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// NewObjectStore connects to the bucket named by rawURL, creating it if it
// does not exist.
func NewObjectStore(ctx context.Context, rawURL string, creds Credentials, retries int, log *zap.Logger) (*ObjectStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	bucket, prefix, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, ""),
		Secure: creds.UseSSL,
		Region: creds.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: creds.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
		log.Info("created bucket", zap.String("bucket", bucket))
	}

	staging, err := os.MkdirTemp("", "songlake-staging-")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return newObjectStore(client, bucket, prefix, staging, retries, log), nil
}

func newObjectStore(client objectClient, bucket, prefix, staging string, retries int, log *zap.Logger) *ObjectStore {
	if retries < 1 {
		retries = 1
	}
	return &ObjectStore{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		staging: staging,
		retries: uint(retries),
		backOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		log:     log,
	}
}

// Stage returns a directory below a private temp dir.
func (o *ObjectStore) Stage(table string) (string, error) {
	dir := filepath.Join(o.staging, table)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("staging %s: %w", table, err)
	}
	return dir, nil
}

// Publish deletes every object under the table prefix and uploads the staged
// files, retrying the whole step with exponential backoff.
func (o *ObjectStore) Publish(ctx context.Context, table, staged string) (string, error) {
	prefix := tablePrefix(o.prefix, table)

	uploaded, err := backoff.Retry(ctx, func() (int, error) {
		if err := o.removePrefix(ctx, prefix); err != nil {
			return 0, err
		}
		return o.upload(ctx, prefix, staged)
	},
		backoff.WithBackOff(o.backOff()),
		backoff.WithMaxTries(o.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.log.Warn("publish failed, retrying",
				zap.String("table", table),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("publishing %s: %w", table, err)
	}

	o.log.Debug("published table",
		zap.String("table", table),
		zap.String("bucket", o.bucket),
		zap.String("prefix", prefix),
		zap.Int("objects", uploaded),
	)
	return fmt.Sprintf("s3://%s/%s", o.bucket, strings.TrimSuffix(prefix, "/")), nil
}

// Cleanup removes the staging temp dir.
func (o *ObjectStore) Cleanup() error {
	return os.RemoveAll(o.staging)
}

func (o *ObjectStore) removePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	listDone := make(chan error, 1)
	go func() {
		defer close(objects)
		for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				listDone <- obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				listDone <- ctx.Err()
				return
			}
		}
		listDone <- nil
	}()

	var removeErr error
	for rerr := range o.client.RemoveObjects(ctx, o.bucket, objects, minio.RemoveObjectsOptions{}) {
		if removeErr == nil {
			removeErr = fmt.Errorf("removing %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	// Unblocks the lister if removal stopped reading early.
	cancel()
	if listErr := <-listDone; listErr != nil {
		return fmt.Errorf("listing %s: %w", prefix, listErr)
	}
	return removeErr
}

func (o *ObjectStore) upload(ctx context.Context, prefix, staged string) (int, error) {
	var count int
	err := filepath.WalkDir(staged, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(staged, p)
		if err != nil {
			return err
		}
		key := prefix + filepath.ToSlash(rel)
		if _, err := o.client.FPutObject(ctx, o.bucket, key, p, minio.PutObjectOptions{ContentType: parquetContentType}); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		count++
		return nil
	})
	return count, err
}

// tablePrefix returns the object key prefix for a table, ending in "/".
func tablePrefix(prefix, table string) string {
	return path.Join(prefix, table) + "/"
}
