package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spigell/job-pilot/internal/apperr"
)

const (
	BackendLocal = "local"
	BackendMinio = "minio"
)

// ObjectStore keeps exported files. Put returns the pointer recorded on the
// materials rows.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LocalStore writes under a directory. Keys are relative paths.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("could not create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

type MinioConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AccessKeyID      string `mapstructure:"access-key-id"`
	SecretAccessKey  string `mapstructure:"secret-access-key"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	UseSSL           bool   `mapstructure:"use-ssl"`
	BucketLookup     string `mapstructure:"bucket-lookup"`
	AutoCreateBucket bool   `mapstructure:"auto-create-bucket"`
}

// MinioStore uploads to an S3 compatible bucket. Pointers have the form
// s3://bucket/key.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, clean, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperr.ExternalCapability(fmt.Sprintf("put object %q", clean), err, true)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, clean), nil
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + key))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." || clean != strings.TrimPrefix(key, "/") {
		return "", apperr.Validation("invalid object key %q", key)
	}
	return clean, nil
}
