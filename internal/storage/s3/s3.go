// Package s3 stores provider content in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/internal/storage"
	"github.com/velthium/vestalia-network/pkg/retry"
)

// BackendConfig configures an S3 or MinIO bucket. Prefix namespaces the
// keys of one provider inside a shared bucket.
type BackendConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// Backend implements storage.Backend using S3/MinIO.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	backend := &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err := backend.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return backend, nil
}

func (b *Backend) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return b.prefix + "/" + k
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(b.bucket),
		})
		if createErr != nil {
			metrics.RecordS3Operation("create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
		}
		metrics.RecordS3Operation("create_bucket", time.Since(start), true)
		logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	}
	return nil
}

// GetObject retrieves an object from S3, retrying transient failures.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	result, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func(int) (*s3.GetObjectOutput, error) {
		start := time.Now()
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(key)),
		})
		metrics.RecordS3Operation("get_object", time.Since(start), err == nil)
		var nsk *types.NoSuchKey
		if err != nil && !errors.As(err, &nsk) {
			return nil, retry.Retryable(err)
		}
		return out, err
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, fmt.Errorf("get object %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}

// PutObject uploads content to S3.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		metrics.RecordS3Operation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordS3Operation("put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes an object from S3.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		metrics.RecordS3Operation("delete_object", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	metrics.RecordS3Operation("delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// ObjectExists checks if an object exists in S3.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		metrics.RecordS3Operation("head_object", time.Since(start), false)
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}

	metrics.RecordS3Operation("head_object", time.Since(start), true)
	return true, nil
}

// ListObjects pages through the bucket under the backend prefix.
func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.key(prefix)),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			metrics.RecordS3Operation("list_objects", time.Since(start), false)
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if b.prefix != "" {
				k = strings.TrimPrefix(k, b.prefix+"/")
			}
			keys = append(keys, k)
		}
	}

	metrics.RecordS3Operation("list_objects", time.Since(start), true)
	sort.Strings(keys)
	return keys, nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }
