package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS implements Backend using Google Cloud Storage.
type GCS struct {
	client *gcs.Client
}

// NewGCS creates a GCS-backed Backend.
// It uses Application Default Credentials (works with Workload Identity, SA keys, gcloud auth).
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client}, nil
}

// Bucket returns a handle on the named GCS bucket.
func (g *GCS) Bucket(name string) Bucket {
	return &gcsBucket{name: name, handle: g.client.Bucket(name)}
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

type gcsBucket struct {
	name   string
	handle *gcs.BucketHandle
}

func (b *gcsBucket) Name() string { return b.name }

func (b *gcsBucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.handle.Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs attrs %s: %w", key, err)
	}
	return true, nil
}

func (b *gcsBucket) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.handle.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("gcs read %s: %w", key, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *gcsBucket) write(ctx context.Context, obj *gcs.ObjectHandle, key string, data []byte, contentType string) error {
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (b *gcsBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return b.write(ctx, b.handle.Object(key), key, data, contentType)
}

func (b *gcsBucket) Create(ctx context.Context, key string, data []byte, contentType string) error {
	obj := b.handle.Object(key).If(gcs.Conditions{DoesNotExist: true})
	err := b.write(ctx, obj, key, data, contentType)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("gcs create %s: %w", key, ErrExists)
	}
	return err
}

func (b *gcsBucket) Delete(ctx context.Context, key string) error {
	err := b.handle.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (b *gcsBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.handle.Objects(ctx, &gcs.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
