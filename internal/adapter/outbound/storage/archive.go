package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
)

// ArchiveConfig holds S3-compatible bucket configuration.
type ArchiveConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

// objectPutter is the slice of the S3 API the archive needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// callbackArchive implements outbound.CallbackArchivePort.
type callbackArchive struct {
	client objectPutter
	bucket string
	prefix string
}

// NewCallbackArchive creates an archive backed by an S3-compatible bucket.
// Without static credentials the default AWS credential chain is used.
func NewCallbackArchive(ctx context.Context, cfg ArchiveConfig) (outbound.CallbackArchivePort, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket not configured")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newCallbackArchive(client, cfg.Bucket, cfg.Prefix), nil
}

func newCallbackArchive(client objectPutter, bucket, prefix string) *callbackArchive {
	return &callbackArchive{client: client, bucket: bucket, prefix: prefix}
}

// Archive writes body under prefix/provider/YYYY/MM/DD/<unix-nanos>-<uuid>.
func (a *callbackArchive) Archive(ctx context.Context, provider model.Provider, receivedAt time.Time, body []byte) (string, error) {
	receivedAt = receivedAt.UTC()
	key := path.Join(
		a.prefix,
		string(provider),
		receivedAt.Format("2006/01/02"),
		fmt.Sprintf("%d-%s", receivedAt.UnixNano(), uuid.NewString()),
	)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"provider": string(provider),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive callback: %w", err)
	}
	return key, nil
}

var _ outbound.CallbackArchivePort = (*callbackArchive)(nil)
