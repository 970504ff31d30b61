package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimpse-app/glimpse/internal/config"
)

func testImageStore() *ImageStore {
	cfg := &config.Config{
		S3RootUser:     "minio",
		S3RootPassword: "minio123",
		S3Bucket:       "glimpse-captures",
		S3Region:       "us-east-1",
		S3BaseEndpoint: "http://localhost:9000",
	}
	return NewImageStore(cfg)
}

func stubAWSConfig(t *testing.T) {
	t.Helper()
	orig := loadDefaultAWSConfig
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	key, err := objectKey("owner1", ts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "captures/owner1/2026/08/29/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	// Keys are unique per call even for the same timestamp.
	other, err := objectKey("owner1", ts)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestArchive(t *testing.T) {
	stubAWSConfig(t)

	var gotBucket, gotKey, gotContentType string
	var gotBody []byte
	origPut := putObject
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		gotBucket = aws.ToString(in.Bucket)
		gotKey = aws.ToString(in.Key)
		gotContentType = aws.ToString(in.ContentType)
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		gotBody = b
		return &s3.PutObjectOutput{}, nil
	}
	t.Cleanup(func() { putObject = origPut })

	ts := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	key, err := testImageStore().Archive(context.Background(), "owner1", []byte("png bytes"), ts)
	require.NoError(t, err)

	assert.Equal(t, gotKey, key)
	assert.Equal(t, "glimpse-captures", gotBucket)
	assert.Equal(t, "image/png", gotContentType)
	assert.Equal(t, []byte("png bytes"), gotBody)
	assert.True(t, strings.HasPrefix(key, "captures/owner1/2026/08/29/"))
}

func TestArchive_PutError(t *testing.T) {
	stubAWSConfig(t)

	origPut := putObject
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return nil, errors.New("access denied")
	}
	t.Cleanup(func() { putObject = origPut })

	_, err := testImageStore().Archive(context.Background(), "owner1", []byte("x"), time.Now())
	assert.ErrorContains(t, err, "s3 put error")
}

func TestPresignedGetURL(t *testing.T) {
	stubAWSConfig(t)

	origPresign := presignGetObject
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		assert.Equal(t, "glimpse-captures", aws.ToString(in.Bucket))
		assert.Equal(t, "captures/owner1/img.png", aws.ToString(in.Key))
		return &v4.PresignedHTTPRequest{URL: "https://example.com/signed"}, nil
	}
	t.Cleanup(func() { presignGetObject = origPresign })

	url, err := testImageStore().PresignedGetURL(context.Background(), "captures/owner1/img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/signed", url)
}

func TestPresignedGetURL_Error(t *testing.T) {
	stubAWSConfig(t)

	origPresign := presignGetObject
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("signing failed")
	}
	t.Cleanup(func() { presignGetObject = origPresign })

	_, err := testImageStore().PresignedGetURL(context.Background(), "key")
	assert.ErrorContains(t, err, "s3 presign error")
}
