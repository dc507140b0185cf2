// Package s3 provides an S3-compatible storage backend with metrics.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string // empty for AWS itself
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Backend implements storage on S3 or MinIO.
type Backend struct {
	client *s3.Client
	bucket string
}

// New creates an S3 backend and makes sure its bucket exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	b := &Backend{client: client, bucket: cfg.Bucket}
	if err := b.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", logging.Err(err))
	}
	return b, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)})
	if createErr != nil {
		metrics.RecordS3Operation("create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	metrics.RecordS3Operation("create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", logging.String("bucket", b.bucket))
	return nil
}

// GetObject retrieves an object with range support.
func (b *Backend) GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	start := time.Now()

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if offset > 0 || length > 0 {
		if length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		metrics.RecordS3Operation("get_object", time.Since(start), false)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, fmt.Errorf("get object %s: %w", key, fs.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	metrics.RecordS3Operation("get_object", time.Since(start), true)

	return result.Body, aws.ToInt64(result.ContentLength), nil
}

// PutObject uploads content.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		metrics.RecordS3Operation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordS3Operation("put_object", time.Since(start), true)
	logging.Debug("S3 put object", logging.String("key", key), logging.Int64("size", size))
	return nil
}

// DeleteObject removes an object.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordS3Operation("delete_object", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	metrics.RecordS3Operation("delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", logging.String("key", key))
	return nil
}

// ObjectExists checks if an object exists.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
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

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }
