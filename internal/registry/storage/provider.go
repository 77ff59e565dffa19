// Package storage abstracts the object store that holds firmware images.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist reports that no object is stored under the requested key.
var ErrNotExist = errors.New("firmware object does not exist")

// Provider is the firmware object store behind the registry.
type Provider interface {
	// Stat returns the size of the object under key, or ErrNotExist.
	Stat(ctx context.Context, key string) (int64, error)

	// Fetch opens the object for streaming. The caller closes the reader.
	Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// CheckBucket verifies the backing bucket at startup.
	CheckBucket(ctx context.Context) error
}
