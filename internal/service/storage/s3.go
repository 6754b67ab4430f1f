package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"vehiclestats/internal/config"
)

// Mirror keeps a remote copy of annotated artifacts.
type Mirror interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Mirror uploads artifacts to a bucket under a fixed prefix.
type S3Mirror struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Mirror returns nil, nil when no bucket is configured. Credentials come from
// the default AWS chain.
func NewS3Mirror(config *config.Config) (*S3Mirror, error) {
	if config.S3Bucket == "" {
		return nil, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3Mirror{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.S3Bucket,
		prefix:   "outputs",
	}, nil
}

func (m *S3Mirror) objectKey(key string) string {
	return path.Join(m.prefix, strings.TrimPrefix(key, "/"))
}

func (m *S3Mirror) Upload(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	output, err := m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
		Body:   file,
	})
	if err != nil {
		return "", err
	}
	return output.Location, nil
}

func (m *S3Mirror) Delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	return err
}
