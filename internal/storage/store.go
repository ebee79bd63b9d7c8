// Package storage persists exported assets and run manifests. Stores
// never expose partially written objects: local writes go through a temp
// file and rename, blob writes only commit on Close.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ManifestKey is the storage key the run manifest is written under,
// relative to the store root.
const ManifestKey = "_manifest.json"

// WriteResult describes a completed asset write.
type WriteResult struct {
	Key      string
	Bytes    int64
	Checksum string // "sha256:<hex>"
}

// Manifest describes one export run. It is written next to the assets as
// _manifest.json after the run completes.
type Manifest struct {
	Run       RunInfo       `json:"run"`
	Document  DocumentInfo  `json:"document"`
	Assets    []AssetInfo   `json:"assets"`
	Failures  []FailureInfo `json:"failures,omitempty"`
	Producer  ProducerInfo  `json:"producer"`
	CreatedAt time.Time     `json:"created_at"`
}

// RunInfo summarizes the run outcome.
type RunInfo struct {
	ID         string `json:"id"`
	Strategy   string `json:"strategy"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// DocumentInfo records the exported document's identity and version.
type DocumentInfo struct {
	FileKey      string    `json:"file_key"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	LastModified time.Time `json:"last_modified"`
}

// AssetInfo describes a single exported asset.
type AssetInfo struct {
	NodeID   string `json:"node_id"`
	Name     string `json:"name"`
	NodePath string `json:"node_path"`
	File     string `json:"file"`
	Format   string `json:"format"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// FailureInfo describes a node that could not be exported.
type FailureInfo struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ProducerInfo describes the software that produced the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// AssetStore abstracts writing exported assets to storage.
type AssetStore interface {
	// Write streams body to key, replacing any existing object, and
	// returns the byte count and sha256 checksum computed in flight. The
	// object is never observable half-written.
	Write(ctx context.Context, key string, body io.Reader) (*WriteResult, error)

	// WriteManifest writes the run manifest to key.
	WriteManifest(ctx context.Context, key string, manifest *Manifest) error

	// Exists checks whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, blob: gs://bucket/path or s3://bucket/path.
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "blob"

	// Dir is the output directory for the local backend.
	Dir string

	// Bucket is the bucket URL for the blob backend (gs://…, s3://…).
	Bucket string

	// Prefix is prepended to every key.
	Prefix string
}

// NewAssetStore creates a storage backend based on configuration.
func NewAssetStore(ctx context.Context, cfg Config) (AssetStore, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for local backend")
		}
		return NewLocalStore(cfg.Dir)
	case "blob":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for blob backend")
		}
		return NewBlobStore(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
