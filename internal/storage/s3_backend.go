package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Connection pool default settings for S3 backend
const (
	// DefaultMaxIdleConns is the default maximum number of idle connections across all hosts
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the default maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 100
	// DefaultIdleConnTimeout is the default timeout for idle connections
	DefaultIdleConnTimeout = 90 * time.Second
)

const (
	snapshotContentType = "application/octet-stream"
	multipartPartSize   = 5 * 1024 * 1024
	indexKeyDir         = "indexes"
)

// S3BackendConfig holds configuration for the S3 backend
type S3BackendConfig struct {
	Endpoint        string `yaml:"endpoint" envconfig:"ENDPOINT"`                   // S3-compatible endpoint URL (e.g. MinIO)
	Bucket          string `yaml:"bucket" envconfig:"BUCKET"`                       // Bucket name
	Prefix          string `yaml:"prefix" envconfig:"PREFIX"`                       // Optional key prefix for all snapshots
	AccessKeyID     string `yaml:"access_key_id" envconfig:"ACCESS_KEY_ID"`         // AWS access key
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"SECRET_ACCESS_KEY"` // AWS secret key
	Region          string `yaml:"region" envconfig:"REGION"`                       // AWS region (default: us-east-1)
	UsePathStyle    bool   `yaml:"use_path_style" envconfig:"USE_PATH_STYLE"`       // Use path-style addressing (required for MinIO)

	// Connection pool settings
	MaxIdleConns        int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" envconfig:"MAX_IDLE_CONNS_PER_HOST"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" envconfig:"IDLE_CONN_TIMEOUT"`
}

// Validate checks the configuration for required fields
func (c *S3BackendConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("S3 credentials are required")
	}
	return nil
}

// S3Backend stores snapshots in an S3-compatible bucket.
type S3Backend struct {
	client     *s3.Client
	bucket     string
	prefix     string
	pool       func(*http.Transport)
	httpClient *awshttp.BuildableClient
}

// NewS3Backend creates a new S3 backend from configuration
func NewS3Backend(cfg *S3BackendConfig) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = DefaultMaxIdleConns
	}
	maxIdleConnsPerHost := cfg.MaxIdleConnsPerHost
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout <= 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	// The SDK layers its own transport options (AWS_CA_BUNDLE) on a buildable
	// client, so the pool settings go in as an option too.
	pool := func(tr *http.Transport) {
		tr.MaxIdleConns = maxIdleConns
		tr.MaxIdleConnsPerHost = maxIdleConnsPerHost
		tr.IdleConnTimeout = idleConnTimeout
	}
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(pool)

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if bc, ok := awsCfg.HTTPClient.(*awshttp.BuildableClient); ok {
		httpClient = bc
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Backend{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     strings.TrimSuffix(cfg.Prefix, "/"),
		pool:       pool,
		httpClient: httpClient,
	}, nil
}

// Bucket returns the S3 bucket name
func (b *S3Backend) Bucket() string { return b.bucket }

// Prefix returns the S3 key prefix
func (b *S3Backend) Prefix() string { return b.prefix }

// HTTPTransport returns a copy of the base transport with this backend's pool
// settings applied.
func (b *S3Backend) HTTPTransport() *http.Transport {
	tr := b.httpClient.GetTransport()
	b.pool(tr)
	return tr
}

// HTTPClient returns the HTTP client used by this S3 backend
func (b *S3Backend) HTTPClient() *awshttp.BuildableClient { return b.httpClient }

// buildS3Key constructs the S3 key for a snapshot
func buildS3Key(prefix, name string) string {
	key := path.Join(indexKeyDir, name+snapshotExt)
	if prefix != "" {
		key = path.Join(strings.TrimSuffix(prefix, "/"), key)
	}
	return key
}

func listPrefix(prefix string) string {
	if prefix == "" {
		return indexKeyDir + "/"
	}
	return path.Join(prefix, indexKeyDir) + "/"
}

// Put uploads a snapshot, switching to multipart upload for large payloads.
func (b *S3Backend) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	key := buildS3Key(b.prefix, name)

	if len(data) >= multipartPartSize {
		if err := b.putMultipart(ctx, key, data); err != nil {
			return NewS3Error("upload", b.bucket, key, err)
		}
		return nil
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(snapshotContentType),
	})
	if err != nil {
		return NewS3Error("upload", b.bucket, key, err)
	}
	return nil
}

func (b *S3Backend) putMultipart(ctx context.Context, key string, data []byte) error {
	createOut, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(snapshotContentType),
	})
	if err != nil {
		return err
	}
	uploadID := createOut.UploadId

	parts := make([]types.CompletedPart, 0, len(data)/multipartPartSize+1)
	partNumber := int32(1)
	for start := 0; start < len(data); start += multipartPartSize {
		end := min(start+multipartPartSize, len(data))
		partOut, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data[start:end]),
		})
		if err != nil {
			_, _ = b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(b.bucket),
				Key:      aws.String(key),
				UploadId: uploadID,
			})
			return err
		}
		parts = append(parts, types.CompletedPart{
			ETag:       partOut.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++
	}

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return err
}

// Get downloads a snapshot.
func (b *S3Backend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	key := buildS3Key(b.prefix, name)

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &NotFoundError{Name: name}
		}
		// Some S3-compatible services only report it in the message
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return nil, &NotFoundError{Name: name}
		}
		return nil, NewS3Error("download", b.bucket, key, err)
	}
	return result.Body, nil
}

// List returns every snapshot name under the prefix.
func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(listPrefix(b.prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, NewS3Error("list", b.bucket, b.prefix, err)
		}
		for _, obj := range page.Contents {
			base := path.Base(aws.ToString(obj.Key))
			if strings.HasSuffix(base, snapshotExt) {
				names = append(names, strings.TrimSuffix(base, snapshotExt))
			}
		}
	}
	return names, nil
}

// Delete removes a snapshot from the bucket.
func (b *S3Backend) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	key := buildS3Key(b.prefix, name)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewS3Error("delete", b.bucket, key, err)
	}
	return nil
}
