package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// RunStore writes run artifacts to <prefix>/<run_id>/<name> in one bucket.
type RunStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewRunStore(client *minio.Client, cfg Config) (*RunStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("artifact store bucket is required")
	}
	return &RunStore{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// ObjectKey returns the key an artifact of the given run is stored under.
func ObjectKey(prefix, runID, name string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, "/\\") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	clean := path.Clean("/" + strings.TrimSpace(name))
	if clean == "/" {
		return "", errors.New("artifact name is required")
	}
	key := path.Join(runID, strings.TrimPrefix(clean, "/"))
	if p := strings.Trim(prefix, "/"); p != "" {
		key = path.Join(p, key)
	}
	return key, nil
}

// PutArtifact uploads body and returns the s3:// URI of the stored object.
func (s *RunStore) PutArtifact(ctx context.Context, runID, name string, body io.Reader, size int64, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("artifact store not initialized")
	}
	key, err := ObjectKey(s.prefix, runID, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
