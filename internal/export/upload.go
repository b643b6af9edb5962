package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"signoff/internal/ack"
	"signoff/internal/util"
)

// ObjectStore is the subset of the minio client used for report uploads.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader stores rendered reports in a bucket.
type Uploader struct {
	client ObjectStore
	bucket string
	logger *slog.Logger
	now    func() time.Time
}

// UploaderConfig describes the object storage endpoint.
type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewUploader connects to an S3-compatible endpoint.
func NewUploader(cfg UploaderConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return NewUploaderWithClient(client, cfg.Bucket, logger), nil
}

func NewUploaderWithClient(client ObjectStore, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if bucket == "" {
		bucket = "signoff-reports"
	}
	return &Uploader{client: client, bucket: bucket, logger: logger, now: time.Now}
}

// Upload renders rows as CSV and stores them under reports/<date>/<kind>-<id>.csv.
// It returns the object key.
func (u *Uploader) Upload(ctx context.Context, kind string, rows []ack.Record) (string, error) {
	report, err := Render(kind, rows)
	if err != nil {
		return "", err
	}
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	base := report.Filename[:len(report.Filename)-len(".csv")]
	key := path.Join("reports", u.now().UTC().Format("2006-01-02"), util.NewID(base)+".csv")
	info, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(report.Data), int64(len(report.Data)),
		minio.PutObjectOptions{ContentType: report.MimeType})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	u.logger.Info("report uploaded", "bucket", u.bucket, "key", key, "rows", len(rows), "size", info.Size)
	return key, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}
