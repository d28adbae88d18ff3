package blobstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/blobstore"
)

func TestBlobPath_ShardsByHashPrefix(t *testing.T) {
	path := blobstore.BlobPath("abcdef0123456789", "image/png")
	assert.Equal(t, "blobs/ab/abcdef0123456789.png", path)
}

func TestBlobPath_UnknownMimeTypeHasNoExtension(t *testing.T) {
	path := blobstore.BlobPath("abcdef0123456789", "application/x-unknown")
	assert.Equal(t, "blobs/ab/abcdef0123456789", path)
}

func TestMimeTypeToExt_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "mp3", blobstore.MimeTypeToExt("audio/mpeg"))
	assert.Equal(t, "", blobstore.MimeTypeToExt("application/x-unknown"))
}

func TestPersistBlobToStorage_MemoryBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	storageCtx := blobstore.NewContext(backend, "", "root", "movie-1")

	ref, err := blobstore.PersistBlobToStorage(ctx, storageCtx, []byte("hello world"), "text/plain")
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Hash)
	assert.Equal(t, int64(len("hello world")), ref.Size)
	assert.Equal(t, "text/plain", ref.MimeType)

	data, err := blobstore.ReadBlob(ctx, storageCtx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPersistBlobToStorage_IdempotentOnIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	storageCtx := blobstore.NewContext(backend, "", "root", "movie-1")

	ref1, err := blobstore.PersistBlobToStorage(ctx, storageCtx, []byte("same bytes"), "text/plain")
	require.NoError(t, err)
	ref2, err := blobstore.PersistBlobToStorage(ctx, storageCtx, []byte("same bytes"), "text/plain")
	require.NoError(t, err)

	assert.Equal(t, ref1.Hash, ref2.Hash)

	var count int
	err = backend.List(ctx, storageCtx.Resolve("blobs"), blobstore.ListOptions{Deep: true}, func(blobstore.ListEntry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPersistBlobToStorage_EmptyMimeTypeDefaults(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	storageCtx := blobstore.NewContext(backend, "", "root", "movie-1")

	ref, err := blobstore.PersistBlobToStorage(ctx, storageCtx, []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", ref.MimeType)
}

func TestLocalBackend_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := blobstore.NewLocalBackend()
	storageCtx := blobstore.NewContext(backend, dir, "root", "movie-1")

	ref, err := blobstore.PersistBlobToStorage(ctx, storageCtx, []byte("local bytes"), "text/plain")
	require.NoError(t, err)

	data, err := blobstore.ReadBlob(ctx, storageCtx, ref)
	require.NoError(t, err)
	assert.Equal(t, "local bytes", string(data))

	onDisk := storageCtx.Resolve(blobstore.BlobPath(ref.Hash, ref.MimeType))
	_, statErr := os.Stat(onDisk)
	assert.NoError(t, statErr)
}

func TestMemoryBackend_FileExistsAndDirectoryExists(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()

	exists, err := backend.FileExists(ctx, "blobs/ab/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Write(ctx, "blobs/ab/present", []byte("x"), "text/plain"))
	exists, err = backend.FileExists(ctx, "blobs/ab/present")
	require.NoError(t, err)
	assert.True(t, exists)

	dirExists, err := backend.DirectoryExists(ctx, "blobs/ab")
	require.NoError(t, err)
	assert.True(t, dirExists)
}

func TestMemoryBackend_ListShallowVersusDeep(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	require.NoError(t, backend.Write(ctx, "blobs/ab/one", []byte("1"), "text/plain"))
	require.NoError(t, backend.Write(ctx, "blobs/ab/nested/two", []byte("2"), "text/plain"))

	var shallow []string
	require.NoError(t, backend.List(ctx, "blobs/ab", blobstore.ListOptions{}, func(e blobstore.ListEntry) error {
		shallow = append(shallow, e.Path)
		return nil
	}))
	assert.Equal(t, []string{"blobs/ab/one"}, shallow)

	var deep []string
	require.NoError(t, backend.List(ctx, "blobs/ab", blobstore.ListOptions{Deep: true}, func(e blobstore.ListEntry) error {
		deep = append(deep, e.Path)
		return nil
	}))
	assert.ElementsMatch(t, []string{"blobs/ab/one", "blobs/ab/nested/two"}, deep)
}

func TestContext_Resolve_JoinsNonEmptySegments(t *testing.T) {
	storageCtx := blobstore.NewContext(blobstore.NewMemoryBackend(), "/data", "root", "movie-1")
	assert.Equal(t, "/data/root/movie-1/blobs/ab/hash", storageCtx.Resolve("blobs/ab/hash"))

	bare := blobstore.NewContext(blobstore.NewMemoryBackend(), "", "", "movie-1")
	assert.Equal(t, "movie-1/current.json", bare.Resolve("current.json"))
}
