// Package archive keeps a compressed copy of every extracted batch in object
// storage before it is loaded, so a table can be reloaded or audited without
// calling the source API again.
//
// Objects are JSON Lines, one record per line, compressed with gzip or zstd
// and stored under
//
//	<prefix>/company_<tenant>/<connector>/<table>/<yyyy>/<mm>/<dd>/<sync_id>.jsonl.gz
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/json"
)

// Archiver stores extracted batches
type Archiver interface {
	// Archive writes records and returns the object path; empty batches are skipped
	Archive(ctx context.Context, key Key, records []*core.Record) (string, error)
	Close() error
}

// Backend writes one object to a bucket
type Backend interface {
	Put(ctx context.Context, name string, body []byte, contentType, contentEncoding string) error
	Close() error
}

// Key identifies one archived batch
type Key struct {
	TenantID      int64
	ConnectorType string
	Table         string
	SyncID        string
	Time          time.Time
}

// Codec is the object compression
type Codec string

const (
	Gzip Codec = "gzip"
	Zstd Codec = "zstd"
)

// Extension returns the object file extension
func (c Codec) Extension() string {
	if c == Zstd {
		return ".jsonl.zst"
	}
	return ".jsonl.gz"
}

// Path returns the object name of key under prefix
func (k Key) Path(prefix string, codec Codec) string {
	t := k.Time.UTC()
	return path.Join(
		strings.Trim(prefix, "/"),
		fmt.Sprintf("company_%d", k.TenantID),
		core.NormalizeIdentifier(k.ConnectorType),
		core.NormalizeIdentifier(k.Table),
		t.Format("2006"), t.Format("01"), t.Format("02"),
		k.SyncID+codec.Extension(),
	)
}

// Encode writes records as compressed JSON Lines
func Encode(w io.Writer, codec Codec, records []*core.Record) error {
	var zw io.WriteCloser
	switch codec {
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
		}
		zw = enc
	default:
		zw = gzip.NewWriter(w)
	}

	lw := json.NewLineWriter(zw)
	defer lw.Close()
	for _, r := range records {
		if err := lw.Write(r); err != nil {
			_ = zw.Close()
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish compression")
	}
	return nil
}

// Decode reads compressed JSON Lines back into raw lines
func Decode(r io.Reader, codec Codec) ([][]byte, error) {
	var plain io.Reader
	switch codec {
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open zstd stream")
		}
		defer dec.Close()
		plain = dec
	default:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open gzip stream")
		}
		defer gz.Close()
		plain = gz
	}

	data, err := io.ReadAll(plain)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decompress archive")
	}
	return json.SplitLines(data), nil
}

// BlobArchiver archives batches to a Backend
type BlobArchiver struct {
	backend Backend
	prefix  string
	codec   Codec
	logger  *zap.Logger
}

// NewBlobArchiver creates an archiver on backend
func NewBlobArchiver(backend Backend, prefix string, codec Codec, logger *zap.Logger) *BlobArchiver {
	if codec == "" {
		codec = Gzip
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobArchiver{backend: backend, prefix: prefix, codec: codec, logger: logger}
}

// Archive compresses records and writes them under key's path
func (a *BlobArchiver) Archive(ctx context.Context, key Key, records []*core.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := Encode(&buf, a.codec, records); err != nil {
		return "", err
	}

	name := key.Path(a.prefix, a.codec)
	if err := a.backend.Put(ctx, name, buf.Bytes(), "application/x-ndjson", string(a.codec)); err != nil {
		return "", err
	}
	a.logger.Debug("archived batch",
		zap.String("object", name),
		zap.Int("records", len(records)),
		zap.Int("bytes", buf.Len()))
	return name, nil
}

// Close closes the backend
func (a *BlobArchiver) Close() error {
	return a.backend.Close()
}

// Noop discards batches
type Noop struct{}

// Archive does nothing
func (Noop) Archive(context.Context, Key, []*core.Record) (string, error) { return "", nil }

// Close does nothing
func (Noop) Close() error { return nil }

// Open builds the archiver selected by cfg.Backend
func Open(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (Archiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "archive"), zap.String("backend", cfg.Backend))

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "s3":
		backend, err = NewS3Backend(ctx, cfg)
	case "gcs":
		backend, err = NewGCSBackend(ctx, cfg)
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported archive backend: %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	logger.Info("raw extract archive enabled", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
	return NewBlobArchiver(backend, cfg.Prefix, Codec(cfg.Compression), logger), nil
}
