package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // gs:// driver
	_ "gocloud.dev/blob/s3blob"  // s3:// driver
)

// BlobStore writes assets to a cloud bucket through the gocloud portable
// driver layer. The bucket URL picks the provider: gs://bucket,
// s3://bucket?region=…, or mem:// in tests.
type BlobStore struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

// NewBlobStore opens the bucket at bucketURL. Prefix is prepended to all
// keys with a separating slash.
func NewBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return &BlobStore{
		bucket:    bucket,
		bucketURL: strings.TrimSuffix(bucketURL, "/"),
		prefix:    prefix,
	}, nil
}

func (s *BlobStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

// Write streams body to the bucket, hashing the bytes in flight. The
// gocloud writer only commits the object on a successful Close, so a
// failed write never materializes the key.
func (s *BlobStore) Write(ctx context.Context, key string, body io.Reader) (*WriteResult, error) {
	full := s.fullKey(key)

	w, err := s.bucket.NewWriter(ctx, full, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", full, err)
	}

	hash := sha256.New()
	n, err := io.Copy(w, io.TeeReader(body, hash))
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", full, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", full, err)
	}

	return &WriteResult{
		Key:      key,
		Bytes:    n,
		Checksum: FormatChecksum(hash.Sum(nil)),
	}, nil
}

// WriteManifest writes a manifest file to the bucket.
func (s *BlobStore) WriteManifest(ctx context.Context, key string, manifest *Manifest) error {
	full := s.fullKey(key)

	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	w, err := s.bucket.NewWriter(ctx, full, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", full, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write manifest to %s: %w", full, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", full, err)
	}

	return nil
}

// Exists checks if an asset already exists in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.fullKey(key))
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.bucketURL + "/" + s.fullKey(key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify BlobStore implements AssetStore.
var _ AssetStore = (*BlobStore)(nil)
