package blobstore_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/blobstore"
)

// fakeS3RoundTripper answers just enough of the S3 REST API for S3Backend's
// methods to exercise their request/response handling without reaching real
// AWS, the way the teacher's storage tests skip real S3 calls entirely
// (pkg/storage/s3_test.go) rather than mocking the wire protocol; here we go
// one step further and fake the transport so the AWS SDK's own request
// construction and response parsing run for real.
type fakeS3RoundTripper struct {
	bucket  string
	objects map[string][]byte
}

type listBucketResult struct {
	XMLName  xml.Name `xml:"ListBucketResult"`
	Contents []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

func (rt *fakeS3RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.URL.Path
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	// Path-style requests carry the bucket as the URL's first segment; strip
	// it so object keys match what the backend was asked to read or write.
	bucketPrefix := rt.bucket + "/"
	if len(key) >= len(bucketPrefix) && key[:len(bucketPrefix)] == bucketPrefix {
		key = key[len(bucketPrefix):]
	}

	switch {
	case req.Method == http.MethodPut:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		rt.objects[key] = data
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil

	case req.Method == http.MethodHead:
		if _, ok := rt.objects[key]; !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil

	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		result := listBucketResult{}
		for k, v := range rt.objects {
			if len(prefix) > 0 && (len(k) < len(prefix) || k[:len(prefix)] != prefix) {
				continue
			}
			result.Contents = append(result.Contents, struct {
				Key  string `xml:"Key"`
				Size int64  `xml:"Size"`
			}{Key: k, Size: int64(len(v))})
		}
		body, err := xml.Marshal(result)
		if err != nil {
			return nil, err
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{}}, nil

	case req.Method == http.MethodGet:
		data, ok := rt.objects[key]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data)), Header: http.Header{}}, nil

	default:
		return &http.Response{StatusCode: http.StatusMethodNotAllowed, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
}

func fakeS3Client() *s3.Client {
	rt := &fakeS3RoundTripper{bucket: "test-bucket", objects: make(map[string][]byte)}
	return s3.New(s3.Options{
		Region:       "us-east-1",
		HTTPClient:   &http.Client{Transport: rt},
		BaseEndpoint: aws.String("http://fake-s3.invalid"),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
}

func TestS3Backend_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewS3BackendWithClient(fakeS3Client(), "test-bucket")

	require.NoError(t, backend.Write(ctx, "blobs/ab/abcdef", []byte("hello s3"), "text/plain"))

	data, err := backend.ReadBytes(ctx, "blobs/ab/abcdef")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello s3"), data)

	str, err := backend.ReadString(ctx, "blobs/ab/abcdef")
	require.NoError(t, err)
	assert.Equal(t, "hello s3", str)
}

func TestS3Backend_FileExists(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewS3BackendWithClient(fakeS3Client(), "test-bucket")

	ok, err := backend.FileExists(ctx, "blobs/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Write(ctx, "blobs/present", []byte("x"), ""))
	ok, err = backend.FileExists(ctx, "blobs/present")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3Backend_DirectoryExistsAndList(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewS3BackendWithClient(fakeS3Client(), "test-bucket")

	exists, err := backend.DirectoryExists(ctx, "blobs")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Write(ctx, "blobs/ab/one", []byte("1"), ""))
	require.NoError(t, backend.Write(ctx, "blobs/cd/two", []byte("22"), ""))

	exists, err = backend.DirectoryExists(ctx, "blobs")
	require.NoError(t, err)
	assert.True(t, exists)

	var entries []string
	err = backend.List(ctx, "blobs", blobstore.ListOptions{Deep: true}, func(e blobstore.ListEntry) error {
		entries = append(entries, e.Path)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"blobs/ab/one", "blobs/cd/two"}, entries)
}

func TestS3Backend_CreateDirectoryIsNoop(t *testing.T) {
	backend := blobstore.NewS3BackendWithClient(fakeS3Client(), "test-bucket")
	assert.NoError(t, backend.CreateDirectory(context.Background(), "anything"))
}
