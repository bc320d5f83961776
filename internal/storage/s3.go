// Package storage signs download URLs for rendered target assets. Image
// rows store bucket keys; the client gets short-lived presigned URLs.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// Signer turns a stored object key into a fetchable URL.
type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint string
}

func S3ConfigFromEnv(log *logger.Logger) S3Config {
	return S3Config{
		Region:    utils.GetEnv("AWS_REGION", "us-east-1", log),
		Bucket:    utils.GetEnv("S3_ASSET_BUCKET", "", log),
		AccessKey: utils.GetEnv("AWS_ACCESS_KEY_ID", "", log),
		SecretKey: utils.GetEnv("AWS_SECRET_ACCESS_KEY", "", log),
		Endpoint:  utils.GetEnv("S3_ENDPOINT", "", log),
	}
}

type s3Signer struct {
	bucket  string
	presign *s3.PresignClient
	log     *logger.Logger
}

func NewS3Signer(ctx context.Context, log *logger.Logger, cfg S3Config) (Signer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("missing S3_ASSET_BUCKET")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Signer{
		bucket:  cfg.Bucket,
		presign: s3.NewPresignClient(client),
		log:     log.With("client", "S3Signer"),
	}, nil
}

func (s *s3Signer) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Absolute URLs pass through untouched so externally hosted assets work.
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PassthroughSigner returns keys unchanged. Used in tests and local dev
// where assets are plain URLs.
type PassthroughSigner struct{}

func (PassthroughSigner) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return key, nil
}
