package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// S3API is the subset of the S3 client used for artifact content.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage uploads artifacts under <prefix>/<fp[:2]>/<fp>. Content is
// spooled to a temp file first so the key can be derived from its hash.
type S3Storage struct {
	client S3API
	bucket string
	prefix string
	logger *slog.Logger
}

func NewS3Storage(ctx context.Context, cfg domain.S3Config, logger *slog.Logger) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StorageWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewS3StorageWithClient(client S3API, bucket, prefix string, logger *slog.Logger) *S3Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "artifact-storage", "backend", "s3"),
	}
}

func (s *S3Storage) Store(ctx context.Context, name string, r io.Reader) (ports.StoredObject, error) {
	spool, err := os.CreateTemp("", "gantry-artifact-*")
	if err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(spool, hash), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return ports.StoredObject{}, domain.NewStorageError("store", name, err)
	}

	fingerprint := hex.EncodeToString(hash.Sum(nil))
	key := s.keyFor(fingerprint)

	s.logger.Debug("uploading artifact", "name", name, "key", key, "size", size)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"artifact-name": path.Base(name)},
		StorageClass:  types.StorageClassStandard,
	})
	if err != nil {
		return ports.StoredObject{}, domain.NewStorageError("put", key, err)
	}

	return ports.StoredObject{
		Location:    fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Fingerprint: fingerprint,
		Size:        size,
	}, nil
}

func (s *S3Storage) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	key, err := s.keyFromLocation(location)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, domain.NewStorageError("get", key, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get", key, err)
	}
	return out.Body, nil
}

func (s *S3Storage) Delete(ctx context.Context, location string) error {
	key, err := s.keyFromLocation(location)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.NewStorageError("delete", key, err)
	}
	return nil
}

func (s *S3Storage) keyFor(fingerprint string) string {
	key := fingerprint[:2] + "/" + fingerprint
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Storage) keyFromLocation(location string) (string, error) {
	bucketPrefix := fmt.Sprintf("s3://%s/", s.bucket)
	if !strings.HasPrefix(location, bucketPrefix) {
		return "", domain.NewStorageError("resolve", location, domain.ErrInvalidInput)
	}
	return strings.TrimPrefix(location, bucketPrefix), nil
}
