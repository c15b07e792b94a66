package blobstore

import (
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/antgroup/hugescm/internal/ierr"
)

// GCSBucket backs Bucket with cloud.google.com/go/storage — the large-
// object tier for deployments on Google Cloud Storage. iterator is
// imported alongside storage because ListKeys walks a
// storage.ObjectIterator.
type GCSBucket struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCSBucket(client *storage.Client, bucketName string) *GCSBucket {
	return &GCSBucket{bucket: client.Bucket(bucketName), name: bucketName}
}

func (b *GCSBucket) Stat(ctx context.Context, key string) (*Stat, error) {
	attrs, err := b.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ierr.NotFound("blobstore: gcs object %q not found", key)
		}
		return nil, ierr.Transient("blobstore: gcs stat %q: %v", key, err)
	}
	return &Stat{Key: key, Size: attrs.Size, ETag: attrs.Etag}, nil
}

func (b *GCSBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ierr.NotFound("blobstore: gcs object %q not found", key)
		}
		return nil, ierr.Transient("blobstore: gcs open %q: %v", key, err)
	}
	return r, nil
}

func (b *GCSBucket) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ierr.NotFound("blobstore: gcs object %q not found", key)
		}
		return nil, ierr.Transient("blobstore: gcs ranged open %q: %v", key, err)
	}
	return r, nil
}

func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return ierr.Transient("blobstore: gcs put %q: %v", key, err)
	}
	if err := w.Close(); err != nil {
		return ierr.Transient("blobstore: gcs put %q: close: %v", key, err)
	}
	return nil
}

func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return ierr.Transient("blobstore: gcs delete %q: %v", key, err)
	}
	return nil
}

func (b *GCSBucket) Has(ctx context.Context, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if ierr.Is(err, ierr.KindNotFound) {
		return false, nil
	}
	return false, err
}

// Share returns key's direct object URL. A real time-limited V4 signed
// URL needs a service-account private key (storage.SignedURL's
// GoogleAccessID/PrivateKey), which application-default credentials
// don't carry — deployments wanting expiring GCS links need to supply
// that key separately; this is left as a follow-up rather than faked
// with a fixed expiry this signature can't actually enforce.
func (b *GCSBucket) Share(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.googleapis.com/" + b.name + "/" + key, nil
}

// ListKeys enumerates every object key under prefix.
func (b *GCSBucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, ierr.Transient("blobstore: gcs list %q: %v", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
