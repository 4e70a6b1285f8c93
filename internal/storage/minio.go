package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/config"
	"file-service/internal/metrics"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioStore struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}

	// "minio:9000", "http://minio:9000" and "https://minio:9000" are all accepted
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, errors.New("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, errors.New("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinioStore connects to the object store and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.StorageConfig, m *metrics.Metrics, logger *slog.Logger) (*MinioStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("storage configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("storage endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &MinioStore{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("storage bucket created", "bucket", cfg.Bucket)
	}

	logger.Info("object store connected", "endpoint", endpoint, "bucket", cfg.Bucket, "secure", secure)
	return s, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	s.metrics.Storage.RecordOperation(ctx, "put", time.Since(start), err)
	if err != nil {
		return s.classify("put", key, err)
	}
	s.metrics.Storage.RecordUploadedBytes(ctx, size)
	return nil
}

// Remove deletes the object. Removing a missing key succeeds.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	s.metrics.Storage.RecordOperation(ctx, "remove", time.Since(start), err)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return s.classify("remove", key, err)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if isNotFound(err) {
		s.metrics.Storage.RecordOperation(ctx, "stat", time.Since(start), nil)
		return false, nil
	}
	s.metrics.Storage.RecordOperation(ctx, "stat", time.Since(start), err)
	if err != nil {
		return false, s.classify("stat", key, err)
	}
	return true, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("response-content-disposition", AttachmentDisposition(filename))

	start := time.Now()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, params)
	s.metrics.Storage.RecordOperation(ctx, "presign", time.Since(start), err)
	if err != nil {
		return nil, s.classify("presign", key, err)
	}
	return u, nil
}

// Open stats the object under the store timeout and then returns a lazily
// read body bound to ctx, so long downloads are not cut off.
func (s *MinioStore) Open(ctx context.Context, key string) (*Object, error) {
	statCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	info, err := s.client.StatObject(statCtx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		s.metrics.Storage.RecordOperation(ctx, "open", time.Since(start), err)
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, s.classify("open", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	s.metrics.Storage.RecordOperation(ctx, "open", time.Since(start), err)
	if err != nil {
		return nil, s.classify("open", key, err)
	}

	return &Object{
		Body:        obj,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %s does not exist", apperr.ErrStorageUnavailable, s.bucket)
	}
	return nil
}

func (s *MinioStore) classify(op, key string, err error) error {
	if isNotFound(err) {
		return ErrObjectNotFound
	}
	s.logger.Warn("object store operation failed", "operation", op, "key", key, "error", err)
	return fmt.Errorf("%w: %s %s: %v", apperr.ErrStorageUnavailable, op, key, err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}
