// Package blobstore implements the content-addressed blob store and movie
// storage context (spec §4.9): a Storage backend interface (adapted from
// pkg/storage/storage.go's scheme-based interface to a path-based one, since
// every path here is already movie-scoped and content-addressed rather than
// a user-supplied URI), a local filesystem backend, an in-memory backend for
// planning dry-runs, and persistBlobToStorage.
package blobstore

import (
	"context"
	"io"
)

// BlobRef points into the blob store: the content hash, byte size, and the
// mime type it was written with (spec §3).
type BlobRef struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ListEntry is one entry returned by Storage.List.
type ListEntry struct {
	Path  string
	IsDir bool
	Size  int64
}

// ListOptions controls Storage.List.
type ListOptions struct {
	// Deep lists recursively instead of just the immediate children of path.
	Deep bool
}

// Storage is the backend interface every blob-store implementation
// satisfies (spec §4.9). Unlike the teacher's storage.Storage (which
// dispatches on a URI scheme), every path here is already fully resolved and
// movie-scoped by Context.Resolve.
type Storage interface {
	ReadString(ctx context.Context, path string) (string, error)
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, mimeType string) error
	FileExists(ctx context.Context, path string) (bool, error)
	DirectoryExists(ctx context.Context, path string) (bool, error)
	CreateDirectory(ctx context.Context, path string) error
	// List streams directory entries under path to fn; iteration stops early
	// if fn returns an error, which List then returns.
	List(ctx context.Context, path string, opts ListOptions, fn func(ListEntry) error) error
}

// ReadCloserStorage is implemented by backends (S3) that expose a streaming
// Get in addition to the Storage interface, mirroring
// pkg/storage/s3.go's io.ReadCloser-based Get.
type ReadCloserStorage interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Context scopes every storage operation under {rootDir/basePath}/{movieId}
// (spec §4.9, §6).
type Context struct {
	Backend  Storage
	RootDir  string
	BasePath string
	MovieID  string
}

// NewContext returns a Context bound to a single movie's storage scope.
func NewContext(backend Storage, rootDir, basePath, movieID string) *Context {
	return &Context{Backend: backend, RootDir: rootDir, BasePath: basePath, MovieID: movieID}
}

// Resolve joins rootDir/basePath/movieId with the given path segments, the
// way pkg/storage.ParseURI turns a URI into a backend-local path.
func (c *Context) Resolve(segments ...string) string {
	parts := []string{c.RootDir, c.BasePath, c.MovieID}
	parts = append(parts, segments...)
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	var out string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" {
			out = p
			continue
		}
		if out[len(out)-1] == '/' {
			out += p
		} else {
			out += "/" + p
		}
	}
	return out
}
