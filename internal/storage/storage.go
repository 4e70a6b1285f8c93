// Package storage keeps file bodies in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when the object behind a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the object store the file registry writes to.
// Failures other than a missing object are wrapped in apperr.ErrStorageUnavailable.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*url.URL, error)
	Open(ctx context.Context, key string) (*Object, error)
	Ping(ctx context.Context) error
}

// Object is an open object body with its metadata.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// ObjectKey returns a fresh, never reused key for a file owned by ownerID.
func ObjectKey(ownerID int64, now time.Time) string {
	return fmt.Sprintf("uploads/%d/%04d/%02d/%s", ownerID, now.Year(), now.Month(), uuid.NewString())
}

// AttachmentDisposition forces browsers to download instead of rendering inline.
func AttachmentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
