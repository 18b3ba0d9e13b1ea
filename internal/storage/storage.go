package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const defaultPresignExpiry = time.Hour

// Storage issues upload targets directly against an S3 compatible bucket
type Storage struct {
	client     *minio.Client
	bucketName string
	expiry     time.Duration
}

// New creates a new storage client. It does not contact the server.
func New(cfg config.StorageConfig) (*Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		expiry:     expiry,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Presign returns a signed PUT URL for key. contentType is not part of the
// signature; the uploader still sends it as a header.
func (s *Storage) Presign(ctx context.Context, key, contentType string) (*models.UploadTarget, error) {
	signed, err := s.client.PresignedPutObject(ctx, s.bucketName, key, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign %s: %w", key, err)
	}

	return &models.UploadTarget{
		Key:         key,
		SignedURL:   signed.String(),
		DownloadURL: s.ObjectURL(key),
	}, nil
}

// ObjectURL returns the unsigned path-style URL of key
func (s *Storage) ObjectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = path.Join("/", s.bucketName, key)
	u.RawQuery = ""
	return u.String()
}

// Bucket returns the configured bucket name
func (s *Storage) Bucket() string {
	return s.bucketName
}

// ContentType maps an HLS package file to the Content-Type sent on upload
func ContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".srt", ".txt":
		return "text/plain; charset=utf-8"
	case ".vtt":
		return "text/vtt"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
