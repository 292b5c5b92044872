package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 archives blobs in a single bucket of an S3-compatible service (AWS S3
// or MinIO). References are s3://bucket/key URIs.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds explicit construction parameters. Credentials come from the
// default AWS chain (AWS_ACCESS_KEY_ID, shared config, instance role).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; set for MinIO and other S3-compatible servers
	PathStyle bool
	Prefix    string // prepended to every key
}

// Environment fallbacks:
//   MBFIT_ARCHIVE_S3_BUCKET, MBFIT_ARCHIVE_S3_REGION (default us-east-1),
//   MBFIT_ARCHIVE_S3_ENDPOINT, MBFIT_ARCHIVE_S3_PATH_STYLE=true|false

// NewS3 creates an S3 archive. Empty fields fall back to the environment.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = os.Getenv("MBFIT_ARCHIVE_S3_BUCKET")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("MBFIT_ARCHIVE_S3_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("MBFIT_ARCHIVE_S3_ENDPOINT")
	}
	if !cfg.PathStyle {
		cfg.PathStyle = strings.EqualFold(os.Getenv("MBFIT_ARCHIVE_S3_PATH_STYLE"), "true")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3WithClient(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3) Driver() Driver { return DriverS3 }

// Put uploads r as an object. The body is buffered so the SDK can sign it
// with a known length; logs and fit artifacts are small.
func (s *S3) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix != "" {
		k = path.Join(s.prefix, k)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("archive %s: read: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: put object: %w", key, err)
	}
	return "s3://" + s.bucket + "/" + k, nil
}
