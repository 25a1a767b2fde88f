// Package mirror copies downloaded archives and audit exports to an
// S3-compatible bucket.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appConfig "filedrop/config"
	"filedrop/internal/models"
	"filedrop/pkg/utils"
)

var ErrNotConfigured = errors.New("mirror bucket is not configured")

type Client struct {
	uploader *manager.Uploader
	bucket   string
	logger   *slog.Logger
}

func New(ctx context.Context, cfg *appConfig.Config, logger *slog.Logger) (*Client, error) {
	if !cfg.MirrorEnabled() {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.ApiURL != "" {
		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ApiURL)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsConfig)
	}

	return &Client{
		uploader: manager.NewUploader(s3Client),
		bucket:   cfg.BucketName,
		logger:   logger.With("bucket", cfg.BucketName),
	}, nil
}

// UploadFile stores localPath under prefix, keeping its base name.
func (c *Client) UploadFile(ctx context.Context, localPath, prefix string) (*models.MirrorResult, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	remotePath := buildRemotePath(prefix, filepath.Base(localPath))
	if err := c.put(ctx, file, remotePath, detectContentType(localPath)); err != nil {
		return nil, err
	}
	return c.result(remotePath, info.Size()), nil
}

// UploadBytes stores data at key. An empty contentType is derived from
// the key's extension.
func (c *Client) UploadBytes(ctx context.Context, data []byte, key, contentType string) (*models.MirrorResult, error) {
	if contentType == "" {
		contentType = detectContentType(key)
	}
	remotePath := buildRemotePath("", key)
	if err := c.put(ctx, bytes.NewReader(data), remotePath, contentType); err != nil {
		return nil, err
	}
	return c.result(remotePath, int64(len(data))), nil
}

func (c *Client) put(ctx context.Context, body io.Reader, remotePath, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(remotePath),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	c.logger.Info("mirrored", "key", remotePath, "content_type", contentType)
	return nil
}

func (c *Client) result(remotePath string, size int64) *models.MirrorResult {
	return &models.MirrorResult{
		BucketName: c.bucket,
		RemotePath: remotePath,
		Size:       size,
		SizeHuman:  utils.FormatBytes(size),
	}
}

func buildRemotePath(prefix, filename string) string {
	filename = strings.TrimPrefix(filename, "/")
	if prefix == "" {
		return filename
	}

	prefix = strings.TrimPrefix(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + filename
}

var contentTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
	".cbor": "application/cbor",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".zst":  "application/zstd",
	".lz4":  "application/x-lz4",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".db":   "application/vnd.sqlite3",
}

func detectContentType(filename string) string {
	if contentType, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return contentType
	}
	return "application/octet-stream"
}
