package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxURLTTL is the longest lifetime S3 accepts for a presigned URL.
const MaxURLTTL = 7 * 24 * time.Hour

var ErrObjectNotFound = errors.New("object not found")

// Options configures the S3-compatible storage backend.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PublicEndpoint, when set, is used to sign access URLs so that they are
	// reachable from outside the network the server talks to storage over.
	PublicEndpoint string
	PublicUseSSL   bool
}

// Storage provides an S3-compatible object store using MinIO.
// Objects are addressed by key; access URLs are presigned on demand.
type Storage struct {
	client     *minio.Client
	signer     *minio.Client
	bucketName string
}

// NewStorage creates a new Storage instance connected to the configured server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	signer := client
	if opts.PublicEndpoint != "" {
		signer, err = minio.New(opts.PublicEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
			Secure: opts.PublicUseSSL,
			Region: opts.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize public minio client: %w", err)
		}
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		signer:     signer,
		bucketName: opts.Bucket,
	}, nil
}

// Put uploads data under key with the given content type.
func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put: failed to save object %s: %w", key, err)
	}

	return nil
}

// Delete removes the object stored under key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete: failed to remove object %s: %w", key, err)
	}

	return nil
}

// Size returns the stored size of the object under key in bytes.
func (s *Storage) Size(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound
		}

		return 0, fmt.Errorf("size: failed to stat object %s: %w", key, err)
	}

	return info.Size, nil
}

// AccessURL returns a presigned GET URL for key valid for ttl.
// The ttl is clamped to [1s, MaxURLTTL]. Every call yields a distinct URL,
// even within the same signing second.
func (s *Storage) AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ttl = clampTTL(ttl)

	u, err := s.signer.PresignedGetObject(ctx, s.bucketName, key, ttl, accessParams(ttl))
	if err != nil {
		return "", fmt.Errorf("presign: failed to sign url for %s: %w", key, err)
	}

	return u.String(), nil
}

// accessParams builds the signed response overrides of an access URL. The
// cache-control extension carries a per-URL nonce.
func accessParams(ttl time.Duration) url.Values {
	params := url.Values{}
	params.Set("response-cache-control", fmt.Sprintf("private, max-age=%d, nonce=%s", int(ttl.Seconds()), uuid.NewString()))

	return params
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < time.Second:
		return time.Second
	case ttl > MaxURLTTL:
		return MaxURLTTL
	default:
		return ttl
	}
}
