package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"ecorewards-engine/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("media.store", fx.Provide(Provide))

const scheme = "minio://"

// Store keeps uploaded evidence and hands back an opaque reference.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, ref string) error
}

// Provide returns a MinIO backed store, or an in-memory one when no
// endpoint is configured.
func Provide(lc fx.Lifecycle, c *config.Config) (Store, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Warn("MINIO.ENDPOINT not set, media kept in memory")
		return NewMemoryStore(), nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	store := &minioStore{client: client, bucket: c.Minio.BucketName}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return store.ensureBucket(ctx)
		},
	})

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", c.Minio.BucketName))
	return store, nil
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func (s *minioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	zap.L().Info("created media bucket", zap.String("bucket", s.bucket))
	return nil
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return Ref(s.bucket, key), nil
}

func (s *minioStore) Remove(ctx context.Context, ref string) error {
	bucket, key, ok := ParseRef(ref)
	if !ok {
		return fmt.Errorf("invalid media reference %q", ref)
	}
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func Ref(bucket, key string) string {
	return scheme + bucket + "/" + key
}

func ParseRef(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, scheme)
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// ObjectKey lays out evidence per user.
func ObjectKey(userID, actionID, contentType string) string {
	return fmt.Sprintf("actions/%s/%s%s", userID, actionID, extension(contentType))
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"video/mpeg":      ".mpeg",
	"video/3gpp":      ".3gp",
}

func extension(contentType string) string {
	return extensions[contentType]
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return Ref("memory", key), nil
}

func (m *MemoryStore) Remove(_ context.Context, ref string) error {
	_, key, ok := ParseRef(ref)
	if !ok {
		return fmt.Errorf("invalid media reference %q", ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
