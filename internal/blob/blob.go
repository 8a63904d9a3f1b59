// Package blob abstracts the object stores holding the landing and bronze
// zones: named buckets of blobs keyed by slash-separated paths.
package blob

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotExist is returned when a blob is read that does not exist.
	ErrNotExist = errors.New("blob does not exist")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("blob already exists")
)

// Content types used by the pipeline.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// Bucket is a key-value blob store with list-by-prefix.
type Bucket interface {
	// Name returns the bucket name.
	Name() string
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the blob content, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put uploads the whole blob in one call, replacing any existing one.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Create is Put with an if-absent precondition. It returns ErrExists
	// when the key is taken.
	Create(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Backend hands out buckets of one object store.
type Backend interface {
	Bucket(name string) Bucket
	Close() error
}

// Backend names accepted by Open.
const (
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendGCS, "":
		return NewGCS(ctx)
	case BackendS3:
		return NewS3(ctx, opts.S3)
	case BackendLocal:
		if opts.LocalDir == "" {
			return nil, fmt.Errorf("local backend requires a directory")
		}
		return NewLocal(opts.LocalDir), nil
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
