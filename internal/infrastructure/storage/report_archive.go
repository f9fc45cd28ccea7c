// Package storage archives reconciliation reports to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultRegion   = "us-east-1"
	defaultEndpoint = "http://localhost:9000"
	reportsDir      = "reconciliation"
)

// S3ReportArchive writes each reconciliation report as a JSON object.
// It works against AWS S3 and S3-compatible servers such as MinIO.
type S3ReportArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// Option configures S3ReportArchive
type Option func(*S3ReportArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *S3ReportArchive) {
		a.logger = logger
	}
}

// NewS3ReportArchive creates the archive from configuration.
func NewS3ReportArchive(cfg config.StorageConfig, opts ...Option) (*S3ReportArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("storage credentials are required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	a := &S3ReportArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *S3ReportArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("creating report bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Key returns the object key of a report: <prefix>/reconciliation/YYYY/MM/DD/<id>.json
func (a *S3ReportArchive) Key(report *reconciliation.Report) string {
	day := report.StartedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, reportsDir, day, report.ID.String()+".json")
}

// Archive uploads the report and returns its object key.
func (a *S3ReportArchive) Archive(ctx context.Context, report *reconciliation.Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := a.Key(report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", report.ID, err)
	}
	a.logger.Debug("reconciliation report archived", zap.String("key", key), zap.Int("bytes", len(body)))
	return key, nil
}

// Bucket returns the configured bucket name
func (a *S3ReportArchive) Bucket() string {
	return a.bucket
}
