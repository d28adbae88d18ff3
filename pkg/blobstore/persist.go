package blobstore

import (
	"context"
	"fmt"

	"github.com/renku/pipeline-engine/pkg/hashing"
)

// mimeExt is the closed mimeType->ext table (spec §4.9); unknown mime types
// yield no extension.
var mimeExt = map[string]string{
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"audio/webm":       "webm",
	"audio/ogg":        "ogg",
	"audio/flac":       "flac",
	"audio/aac":        "aac",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"text/plain":       "txt",
	"application/json": "json",
}

// MimeTypeToExt maps a mime type to its file extension, empty if unknown.
func MimeTypeToExt(mimeType string) string {
	return mimeExt[mimeType]
}

const defaultMimeType = "application/octet-stream"

// BlobPath computes a blob's content-addressed path under a movie scope
// (spec §4.9, §6): {base}/{movieId}/blobs/{hash[0:2]}/{hash}[.ext].
func BlobPath(hash, mimeType string) string {
	ext := MimeTypeToExt(mimeType)
	name := hash
	if ext != "" {
		name = hash + "." + ext
	}
	return "blobs/" + hash[:2] + "/" + name
}

// PersistBlobToStorage content-addresses data, writes it to ctx's backend if
// absent (idempotent, since identical bytes always produce an identical
// path), and returns the BlobRef (spec §4.9).
func PersistBlobToStorage(ctx context.Context, storageCtx *Context, data []byte, mimeType string) (BlobRef, error) {
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	hash := hashing.HashBytes(data)
	path := storageCtx.Resolve(BlobPath(hash, mimeType))

	exists, err := storageCtx.Backend.FileExists(ctx, path)
	if err != nil {
		return BlobRef{}, fmt.Errorf("blobstore: check existing blob %s: %w", path, err)
	}
	if !exists {
		if err := storageCtx.Backend.Write(ctx, path, data, mimeType); err != nil {
			return BlobRef{}, fmt.Errorf("blobstore: persist blob %s: %w", path, err)
		}
	}

	return BlobRef{Hash: hash, Size: int64(len(data)), MimeType: mimeType}, nil
}

// ReadBlob reads a blob's raw bytes back, given its ref.
func ReadBlob(ctx context.Context, storageCtx *Context, ref BlobRef) ([]byte, error) {
	path := storageCtx.Resolve(BlobPath(ref.Hash, ref.MimeType))
	return storageCtx.Backend.ReadBytes(ctx, path)
}
