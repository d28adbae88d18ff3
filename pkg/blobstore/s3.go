package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Backend implements Storage against Amazon S3, adapted from
// pkg/storage/s3.go (same client construction and NotFound-detection idiom)
// retargeted from s3://bucket/key URIs to plain bucket-relative paths,
// selectable in cmd/engine (-backend=s3) as an alternative to the local and
// memory backends. A Context holds one backend; nothing mirrors writes to S3.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend loads the AWS SDK's default credential chain and returns a
// backend bound to bucket.
func NewS3Backend(ctx context.Context, bucket string) (*S3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load AWS config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3BackendWithClient wraps a pre-constructed client, for tests and
// custom configurations.
func NewS3BackendWithClient(client *s3.Client, bucket string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket}
}

func (s *S3Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(path)})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get s3 object %s: %w", path, err)
	}
	return out.Body, nil
}

func (s *S3Backend) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	body, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (s *S3Backend) ReadString(ctx context.Context, path string) (string, error) {
	data, err := s.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *S3Backend) Write(ctx context.Context, path string, data []byte, mimeType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("blobstore: put s3 object %s: %w", path, err)
	}
	return nil
}

func (s *S3Backend) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(path)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: head s3 object %s: %w", path, err)
	}
	return true, nil
}

// DirectoryExists has no native S3 concept; a "directory" exists iff at
// least one object is found under its prefix.
func (s *S3Backend) DirectoryExists(ctx context.Context, path string) (bool, error) {
	prefix := path
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("blobstore: list s3 prefix %s: %w", prefix, err)
	}
	return len(out.Contents) > 0, nil
}

// CreateDirectory is a no-op: S3 has no real directories.
func (s *S3Backend) CreateDirectory(_ context.Context, _ string) error {
	return nil
}

func (s *S3Backend) List(ctx context.Context, path string, opts ListOptions, fn func(ListEntry) error) error {
	prefix := path
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)}
	if !opts.Deep {
		input.Delimiter = aws.String("/")
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("blobstore: list s3 prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if err := fn(ListEntry{Path: aws.ToString(obj.Key), IsDir: false, Size: aws.ToInt64(obj.Size)}); err != nil {
				return err
			}
		}
		for _, common := range page.CommonPrefixes {
			if err := fn(ListEntry{Path: aws.ToString(common.Prefix), IsDir: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NotFound" {
			return true
		}
		if httpResp, ok := apiErr.(interface{ HTTPStatusCode() int }); ok && httpResp.HTTPStatusCode() == http.StatusNotFound {
			return true
		}
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	return false
}
