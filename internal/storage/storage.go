// Package storage uploads event artifacts to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ObjectStore is the subset of object storage the service needs
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PutFile(ctx context.Context, key, filePath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// StorageError wraps a failed storage operation
type StorageError struct {
	Op        string
	Key       string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// IsNotExist reports whether err means the object is missing
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ObjectKey builds the bucket key for an event artifact
func ObjectKey(cameraID, eventID, filePath string) string {
	return strings.Join([]string{"events", cameraID, eventID, filepath.Base(filePath)}, "/")
}

func detectContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	case ".mjpeg", ".mjpg":
		return "video/x-motion-jpeg"
	default:
		return "application/octet-stream"
	}
}
