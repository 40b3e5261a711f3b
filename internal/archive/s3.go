// Package archive keeps a copy of every raw upload in S3 so an import can
// be replayed or audited after its pre-staging rows are consumed.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
)

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads raw CSV files under a fixed key prefix.
type S3Archiver struct {
	client   PutObjectAPI
	bucket   string
	prefix   string
	compress bool
	now      func() time.Time
}

// Config contains configuration for the S3 archiver
type Config struct {
	Bucket     string
	Region     string
	Prefix     string // e.g. "staging-uploads"
	AWSProfile string // empty uses the default credential chain
	Compress   bool
}

// NewS3Archiver builds an archiver backed by a real S3 client.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg), nil
}

// New wraps an existing client.
func New(client PutObjectAPI, cfg Config) *S3Archiver {
	return &S3Archiver{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		compress: cfg.Compress,
		now:      time.Now,
	}
}

// Archive stores body under key and returns the s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) (string, error) {
	fullKey := path.Join(a.prefix, key)
	contentType := "text/csv"
	encoding := ""

	if a.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return "", fmt.Errorf("compress upload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("compress upload: %w", err)
		}
		body = buf.Bytes()
		fullKey += ".gz"
		encoding = "gzip"
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"archived_at": a.now().UTC().Format(time.RFC3339),
		},
	}
	if encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", a.bucket, fullKey, err)
	}

	location := "s3://" + a.bucket + "/" + fullKey
	logger.Debug("archived upload", "location", location, "bytes", len(body))
	return location, nil
}
