// Package storage moves large function payloads and results through an
// S3-compatible object store, for deployments where inline upload bodies
// are impractical. The fabric side reads the same bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
)

// Config holds the object-store connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Store is a bucket-scoped object store client.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the configured bucket
// exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: storage endpoint and bucket are required", domain.ErrConfig)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect object store: %v", domain.ErrTransport, err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", domain.ErrTransport, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %v", domain.ErrTransport, s.bucket, err)
	}
	logging.Op().Info("bucket created", "bucket", s.bucket)
	return nil
}

// Put stores a blob under the given object name.
func (s *Store) Put(ctx context.Context, name string, blob []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(blob), int64(len(blob)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrTransport, name, err)
	}
	return nil
}

// Get retrieves a blob by object name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrTransport, name, err)
	}
	defer obj.Close()

	blob, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransport, name, err)
	}
	return blob, nil
}

// List returns the object names under the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrTransport, prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// Remove deletes one object.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrTransport, name, err)
	}
	return nil
}

// PresignedGet returns a time-limited download URL, so a result can be
// handed to a component without store credentials.
func (s *Store) PresignedGet(ctx context.Context, name string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", domain.ErrTransport, name, err)
	}
	return u.String(), nil
}
