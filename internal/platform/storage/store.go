// Package storage keeps customer uploads in Cloud Storage or on local disk.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when an object key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Object describes a stored upload.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Store persists uploads and returns a URL the print shop can fetch them from.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (Object, error)
	Ping(ctx context.Context) error
}
