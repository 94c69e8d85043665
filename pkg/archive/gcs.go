package archive

import (
	"context"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// GCSBackend writes objects to a Cloud Storage bucket
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSBackend uses the service account key in cfg.CredentialsFile, or
// application default credentials when it is empty
func NewGCSBackend(ctx context.Context, cfg config.ArchiveConfig) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive.bucket is required for the gcs backend")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCSBackend{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// Put writes one object
func (b *GCSBackend) Put(ctx context.Context, name string, body []byte, contentType, contentEncoding string) error {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentEncoding = contentEncoding

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write archive to GCS").
			WithDetail("bucket", b.name).
			WithDetail("object", name)
	}
	// the upload is committed on Close
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to finalize GCS object").
			WithDetail("bucket", b.name).
			WithDetail("object", name)
	}
	return nil
}

// Close closes the client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}
