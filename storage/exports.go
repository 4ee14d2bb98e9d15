package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RenderStorage keeps exported renders in MinIO/S3 so the shell can share a
// URL instead of shuttling bytes.
type RenderStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewRenderStorageFromEnv initialises RenderStorage using MINIO_* environment
// variables. Returns (nil, nil) when unconfigured: export then serves bytes
// directly.
func NewRenderStorageFromEnv() (*RenderStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &RenderStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Enabled reports whether uploads can be attempted.
func (s *RenderStorage) Enabled() bool {
	return s != nil && s.client != nil
}

// Upload stores a rendered PNG under renders/<projectID>/<uuid>.png and
// returns its public URL.
func (s *RenderStorage) Upload(ctx context.Context, projectID string, data []byte) (string, error) {
	if !s.Enabled() {
		return "", errors.New("render storage not configured")
	}
	if len(data) == 0 {
		return "", errors.New("render payload is empty")
	}

	objectName := path.Join("renders", strings.Trim(projectID, "/"), fmt.Sprintf("%s.png", uuid.NewString()))

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType:  "image/png",
		CacheControl: "public, max-age=604800",
	})
	if err != nil {
		return "", fmt.Errorf("upload render: %w", err)
	}

	return s.buildPublicURL(objectName), nil
}

// PresignedURL returns a temporary URL for a stored render object.
func (s *RenderStorage) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if !s.Enabled() {
		return "", errors.New("render storage not configured")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := s.client.PresignedGetObject(presignCtx, s.bucket, strings.TrimPrefix(objectName, "/"), expiry, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

func (s *RenderStorage) buildPublicURL(objectName string) string {
	base := strings.TrimSuffix(s.publicURL, "/")
	object := strings.TrimPrefix(objectName, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, object)
}
