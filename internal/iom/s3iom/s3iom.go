// Package s3iom is a concrete IOM driver backed by S3-compatible object
// storage, grounded in the teacher's client-wrapper-over-an-SDK pattern
// (internal/store/redis.go, internal/store/postgres.go) applied to the AWS
// SDK v2 S3 client instead.
package s3iom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
)

// IOM stores each DataObject's on-disk wire form as a single object per
// bucket/key, named "<bucket>/<k1>/<k2>" within a fixed S3 bucket.
type IOM struct {
	name   string
	client *s3.Client
	bucket string
}

// New builds a client from the default AWS config chain (env vars, shared
// config file, EC2/ECS role), optionally overriding the endpoint for
// S3-compatible object stores (e.g. MinIO) via endpointURL. accessKey and
// secretKey, if both non-empty, override the default credential chain with
// static credentials (MinIO deployments rarely have an instance role to
// fall back to); otherwise the SDK's usual env/shared-config/role chain is
// used.
func New(ctx context.Context, name, awsBucket, region, endpointURL, accessKey, secretKey string) (*IOM, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3iom: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		}
	})
	logging.Op().Info("s3iom configured", "iom", name, "bucket", awsBucket, "region", region)
	return &IOM{name: name, client: client, bucket: awsBucket}, nil
}

// Name identifies this IOM instance (matches a URL's iom= option).
func (m *IOM) Name() string { return m.name }

func objectKey(bucket faodel.Bucket, key faodel.Key) string {
	return fmt.Sprintf("%d/%s/%s", uint32(bucket), key.K1, key.K2)
}

// Write persists ldo's on-disk wire form under bucket/key.
func (m *IOM) Write(ctx context.Context, bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error {
	var buf bytes.Buffer
	if _, err := ldo.WriteTo(&buf); err != nil {
		return fmt.Errorf("s3iom: encode: %w", err)
	}
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(bucket, key)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("s3iom: write: %w", err)
	}
	return nil
}

// Read fetches the object at bucket/key, allocating it from allocator.
func (m *IOM) Read(ctx context.Context, bucket faodel.Bucket, key faodel.Key, allocator *lunasa.Allocator) (*lunasa.DataObject, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(bucket, key)),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, faodel.NewError(faodel.CodeNotFound, "s3iom: %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("s3iom: read: %w", err)
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3iom: read body: %w", err)
	}
	return lunasa.ReadDataObject(bytes.NewReader(payload), allocator)
}

// GetInfo reports whether bucket/key exists and its size, without
// fetching the data.
func (m *IOM) GetInfo(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (iom.Info, error) {
	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(bucket, key)),
	})
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return iom.Info{}, nil
	}
	if err != nil {
		return iom.Info{}, fmt.Errorf("s3iom: get_info: %w", err)
	}
	size := int(aws.ToInt64(out.ContentLength))
	return iom.Info{Exists: true, DataSize: size, Availability: faodel.AvailInDisk}, nil
}

// Drop removes bucket/key, if present. S3's DeleteObject is idempotent:
// deleting a missing key is not an error.
func (m *IOM) Drop(ctx context.Context, bucket faodel.Bucket, key faodel.Key) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey(bucket, key)),
	})
	if err != nil {
		return fmt.Errorf("s3iom: drop: %w", err)
	}
	return nil
}

var _ iom.IOM = (*IOM)(nil)
