package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Disk stores objects in an S3-class object store. Glacier-class storage
// classes surface ErrRestoreInProgress on reads until the restore completes.
type S3Disk struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds configuration for an S3-backed disk.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// NewS3Disk creates a new S3-backed disk.
func NewS3Disk(ctx context.Context, cfg S3Config) (*S3Disk, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Disk{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (d *S3Disk) key(path string) string {
	return d.prefix + strings.TrimPrefix(path, "/")
}

func (d *S3Disk) Get(ctx context.Context, path string) ([]byte, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotExist
		}
		var invalidState *s3types.InvalidObjectState
		if errors.As(err, &invalidState) {
			// Object is in a glacier-class storage class and has not been
			// restored yet.
			return nil, ErrRestoreInProgress
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", path, err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

func (d *S3Disk) Put(ctx context.Context, path string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key(path)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed for %s: %w", path, err)
	}
	return nil
}

func (d *S3Disk) Exists(ctx context.Context, path string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head failed for %s: %w", path, err)
	}
	return true, nil
}

func (d *S3Disk) Delete(ctx context.Context, path string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for %s: %w", path, err)
	}
	return nil
}

func (d *S3Disk) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	key := d.key(prefix)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	result, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 list failed for %s: %w", prefix, err)
	}

	var dirs []string
	for _, cp := range result.CommonPrefixes {
		if cp.Prefix != nil {
			dirs = append(dirs, strings.TrimPrefix(*cp.Prefix, d.prefix))
		}
	}
	return dirs, nil
}
