package archive

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// S3Backend uploads objects with the multipart-aware upload manager
type S3Backend struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Backend loads AWS credentials from the default chain. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Backend(ctx context.Context, cfg config.ArchiveConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive.bucket is required for the s3 backend")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

// Put uploads one object
func (b *S3Backend) Put(ctx context.Context, name string, body []byte, contentType, contentEncoding string) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(name),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String(contentType),
		ContentEncoding: aws.String(contentEncoding),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload archive to S3").
			WithDetail("bucket", b.bucket).
			WithDetail("key", name)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need closing
func (b *S3Backend) Close() error { return nil }
