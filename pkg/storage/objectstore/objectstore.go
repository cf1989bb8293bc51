package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotAccessible marks an object that cannot be read: missing,
// forbidden, or a transient store fault. Callers branch on it with
// errors.Is and treat every cause the same way.
var ErrNotAccessible = errors.New("object not accessible")

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectMetadata is an immutable snapshot of facts about a stored
// object. It may be stale relative to the live object; the pipeline
// evaluates it as fetched.
type ObjectMetadata struct {
	SizeBytes    int64
	ContentType  string
	LastModified time.Time
	UserMetadata map[string]string
}

// Client represents the object-store capabilities the pipeline and
// processor expect. Tags and Stat are distinct calls because labels and
// metadata live behind separate store APIs; callers merge the two.
type Client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, metadata map[string]string) error
	Stat(ctx context.Context, bucket, key string) (ObjectMetadata, error)
	Tags(ctx context.Context, bucket, key string) (map[string]string, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Close() error
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

type minioClient struct {
	client *minio.Client
}

func newMinioClient(cfg Config) (Client, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl}, nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, metadata map[string]string) error {
	opts := minio.PutObjectOptions{UserMetadata: metadata}
	_, err := m.client.PutObject(ctx, bucket, key, reader, size, opts)
	return err
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (ObjectMetadata, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("%w: stat %s/%s: %v", ErrNotAccessible, bucket, key, err)
	}

	// Stat responses canonicalize user-metadata keys; lower-case them
	// so policy lookups see one casing.
	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}

	return ObjectMetadata{
		SizeBytes:    info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		UserMetadata: meta,
	}, nil
}

func (m *minioClient) Tags(ctx context.Context, bucket, key string) (map[string]string, error) {
	t, err := m.client.GetObjectTagging(ctx, bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: tags %s/%s: %v", ErrNotAccessible, bucket, key, err)
	}
	return t.ToMap(), nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrNotAccessible, bucket, key, err)
	}
	return obj, nil
}

func (m *minioClient) Close() error {
	return nil
}
