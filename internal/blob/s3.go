// Package blob archives raw capture images in an S3-compatible object store.
// The archive is optional: when no bucket is configured the scheduler runs
// without one and only the content hash is persisted.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/config"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ImageStore uploads capture PNGs and hands out presigned GET URLs for the
// dashboard.
type ImageStore struct {
	cfg *config.Config
}

func NewImageStore(cfg *config.Config) *ImageStore {
	return &ImageStore{cfg: cfg}
}

func (s *ImageStore) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.S3RootUser,
			s.cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// objectKey partitions captures by owner and date so retention tooling can
// prune by prefix.
func objectKey(ownerID string, ts time.Time) (string, error) {
	suffix, err := common.MakeRandHexString(16)
	if err != nil {
		return "", fmt.Errorf("object key error: %w", err)
	}
	ts = ts.UTC()
	return fmt.Sprintf("captures/%s/%d/%02d/%02d/%s.png",
		ownerID, ts.Year(), ts.Month(), ts.Day(), suffix), nil
}

// Archive uploads png and returns the object key it was stored under.
func (s *ImageStore) Archive(ctx context.Context, ownerID string, png []byte, ts time.Time) (string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 client error: %w", err)
	}

	key, err := objectKey(ownerID, ts)
	if err != nil {
		return "", err
	}
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put error: %w", err)
	}
	return key, nil
}

// PresignedGetURL returns a time-limited download URL for an archived image.
func (s *ImageStore) PresignedGetURL(ctx context.Context, key string) (string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 client error: %w", err)
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("s3 presign error: %w", err)
	}
	return req.URL, nil
}
