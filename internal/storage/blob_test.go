package storage

import (
	"bytes"
	"context"
	"strings"
	"testing"

	_ "gocloud.dev/blob/memblob" // in-memory driver for tests
)

func TestBlobStoreWrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewBlobStore(ctx, "mem://", "exports")
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}
	defer store.Close()

	content := []byte("svg bytes")
	res, err := store.Write(ctx, "icons/Arrow.svg", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if res.Bytes != int64(len(content)) {
		t.Errorf("Bytes = %d, want %d", res.Bytes, len(content))
	}
	if res.Checksum != ComputeChecksum(content) {
		t.Errorf("Checksum = %s, want %s", res.Checksum, ComputeChecksum(content))
	}

	exists, err := store.Exists(ctx, "icons/Arrow.svg")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false for written key")
	}

	// The prefix must apply to stored keys but stay out of results.
	if res.Key != "icons/Arrow.svg" {
		t.Errorf("Key = %s, want icons/Arrow.svg", res.Key)
	}
}

func TestBlobStoreManifest(t *testing.T) {
	ctx := context.Background()
	store, err := NewBlobStore(ctx, "mem://", "")
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}
	defer store.Close()

	manifest := &Manifest{
		Run:      RunInfo{ID: "run-9", Total: 1, Succeeded: 1},
		Document: DocumentInfo{FileKey: "abc", Version: "7"},
	}
	if err := store.WriteManifest(ctx, "_manifest.json", manifest); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	exists, err := store.Exists(ctx, "_manifest.json")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("manifest missing after write")
	}
}

func TestBlobStoreURI(t *testing.T) {
	ctx := context.Background()
	store, err := NewBlobStore(ctx, "mem://", "exports")
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}
	defer store.Close()

	uri := store.URI("a.png")
	if !strings.HasPrefix(uri, "mem://") || !strings.HasSuffix(uri, "exports/a.png") {
		t.Errorf("URI = %s, want mem://…/exports/a.png", uri)
	}
}

func TestChecksum(t *testing.T) {
	data := []byte("payload")
	sum := ComputeChecksum(data)
	if !strings.HasPrefix(sum, "sha256:") {
		t.Errorf("checksum %s missing sha256 prefix", sum)
	}
	if !VerifyChecksum(data, sum) {
		t.Error("VerifyChecksum rejected matching data")
	}
	if VerifyChecksum([]byte("other"), sum) {
		t.Error("VerifyChecksum accepted mismatched data")
	}
}
