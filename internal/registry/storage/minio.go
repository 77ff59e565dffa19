package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tidewatch-io/tidewatch/pkg/log"
	"github.com/tidewatch-io/tidewatch/pkg/options"
)

type minioProvider struct {
	client *minio.Client
	bucket string
	log    log.Logger
}

// NewMinIOProvider creates a provider for any S3-compatible object store.
func NewMinIOProvider(opts *options.S3Options, logger log.Logger) (Provider, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &minioProvider{
		client: client,
		bucket: opts.BucketName,
		log:    logger.WithName("storage"),
	}, nil
}

// CheckBucket verifies the bucket and creates it when missing.
func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		p.log.Info("Bucket does not exist, creating", "bucket", p.bucket)
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", p.bucket, err)
		}
	}
	return nil
}

func (p *minioProvider) Stat(ctx context.Context, key string) (int64, error) {
	info, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotExist
		}
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size, nil
}

func (p *minioProvider) Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}

	// GetObject is lazy; Stat forces the first request so a missing key is
	// reported here instead of on the first read.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	return obj, info.Size, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
