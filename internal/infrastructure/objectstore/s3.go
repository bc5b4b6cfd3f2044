package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	apperrors "github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
)

// S3Store implements Store on Amazon S3 (or an S3 compatible endpoint)
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	bucket    string
	timeout   time.Duration
	logger    *zap.Logger
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3 backed store
func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if creds := staticCredentials(cfg); creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load AWS config").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// MinIO or LocalStack
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})

	return NewS3StoreWithClient(client, cfg, logger), nil
}

// staticCredentials returns nil when the default credential chain applies
func staticCredentials(cfg config.StorageConfig) aws.CredentialsProvider {
	if cfg.AccessKeyID == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
}

// NewS3StoreWithClient wires an existing client
func NewS3StoreWithClient(client *s3.Client, cfg config.StorageConfig, logger *zap.Logger) *S3Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.UploadPartSize >= manager.MinUploadPartSize {
			u.PartSize = cfg.UploadPartSize
		}
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  uploader,
		bucket:    cfg.Bucket,
		timeout:   cfg.OperationTimeout,
		logger:    logger.With(zap.String("component", "s3_store"), zap.String("bucket", cfg.Bucket)),
	}
}

func (s *S3Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *S3Store) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return s.upstream("put object", key, err)
	}
	return nil
}

// PutObjectIfAbsent checks with HeadObject first and also sends If-None-Match
// so a concurrent writer cannot slip in between the two calls.
func (s *S3Store) PutObjectIfAbsent(ctx context.Context, key string, body []byte, contentType string) error {
	if _, err := s.HeadObject(ctx, key); err == nil {
		return ErrObjectExists
	} else if !errors.Is(err, ErrObjectNotFound) {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return ErrObjectExists
		}
		return s.upstream("put object", key, err)
	}
	return nil
}

// UploadStream is bounded by the caller's context only; bundles can be large
func (s *S3Store) UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return s.upstream("upload stream", key, err)
	}
	return nil
}

// GetObject returns the body stream; the caller's context bounds the read
func (s *S3Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, s.upstream("get object", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, s.upstream("head object", key, err)
	}

	info := &ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(clampTTL(ttl)))
	if err != nil {
		return "", s.upstream("presign get", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(clampTTL(ttl)))
	if err != nil {
		return "", s.upstream("presign put", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) upstream(op, key string, err error) error {
	s.logger.Warn("object store operation failed",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err))
	return apperrors.NewUpstreamError("object_store", fmt.Sprintf("%s failed", op)).WithCause(err)
}
