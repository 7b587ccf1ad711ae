package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/pixmix-relay/internal/config"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("staged object not found")
	ErrInvalidHandle      = errors.New("invalid object handle")
)

// bucketClient is the subset of *minio.Client the store relies on.
type bucketClient interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// observer receives per-operation timings.
type observer interface {
	RecordStage(op string, d time.Duration, err error)
}

// Storage stages uploads in an S3-compatible bucket using MinIO.
// Objects are written under <prefix>/<unix millis>-<basename>.
type Storage struct {
	client     bucketClient
	bucketName string
	scheme     string
	prefix     string
	now        func() time.Time
	observer   observer
}

// NewStorage creates a new Storage instance connected to the configured MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, cfg config.Storage, obs observer) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return newStorage(client, cfg.BucketName, cfg.Scheme, cfg.Prefix, obs), nil
}

func newStorage(client bucketClient, bucket, scheme, prefix string, obs observer) *Storage {
	if scheme == "" {
		scheme = "s3"
	}

	return &Storage{
		client:     client,
		bucketName: bucket,
		scheme:     scheme,
		prefix:     prefix,
		now:        time.Now,
		observer:   obs,
	}
}

// Stage copies the local file to the bucket and returns its handle.
func (s *Storage) Stage(ctx context.Context, localPath string) (handle string, err error) {
	defer s.observe("stage", time.Now(), &err)

	base := filepath.Base(localPath)
	key := path.Join(s.prefix, strconv.FormatInt(s.now().UnixMilli(), 10)+"-"+base)

	contentType := mime.TypeByExtension(filepath.Ext(base))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "no-cache",
	})
	if err != nil {
		return "", fmt.Errorf("%w: stage %s: %v", ErrStorageUnavailable, base, err)
	}

	return Handle{Scheme: s.scheme, Bucket: s.bucketName, Key: key}.String(), nil
}

// OpenReadStream re-opens a staged object for sequential reading.
// The caller must close the returned reader.
func (s *Storage) OpenReadStream(ctx context.Context, handle string) (rc io.ReadCloser, err error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	defer s.observe("open", time.Now(), &err)

	if _, err := s.client.StatObject(ctx, h.Bucket, h.Key, minio.StatObjectOptions{}); err != nil {
		return nil, classify("open", h, err)
	}

	obj, err := s.client.GetObject(ctx, h.Bucket, h.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("open", h, err)
	}

	return obj, nil
}

// Unstage deletes a staged object. A missing object yields ErrNotFound.
func (s *Storage) Unstage(ctx context.Context, handle string) (err error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return err
	}
	defer s.observe("unstage", time.Now(), &err)

	if _, err := s.client.StatObject(ctx, h.Bucket, h.Key, minio.StatObjectOptions{}); err != nil {
		return classify("unstage", h, err)
	}

	if err := s.client.RemoveObject(ctx, h.Bucket, h.Key, minio.RemoveObjectOptions{}); err != nil {
		return classify("unstage", h, err)
	}

	return nil
}

func (s *Storage) observe(op string, start time.Time, err *error) {
	if s.observer != nil {
		s.observer.RecordStage(op, time.Since(start), *err)
	}
}

func classify(op string, h Handle, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s %s", ErrNotFound, op, h)
	default:
		return fmt.Errorf("%w: %s %s: %v", ErrStorageUnavailable, op, h, err)
	}
}
