// Package notify emits tamper-evident notifications when an export run
// completes. Events are hash-chained per file key so consumers can detect
// missing or altered notifications.
package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// EventVersion is the notification schema version.
	EventVersion = "1.0"
	// EventTypeRun marks a completed export run.
	EventTypeRun = "export_run"
)

// Event is the webhook payload describing one completed export run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo      `json:"run"`
	Document DocumentInfo `json:"document"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// RunInfo summarizes the outcome of the run.
type RunInfo struct {
	RunID       string         `json:"run_id"`
	Strategy    string         `json:"strategy"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Formats     map[string]int `json:"formats"`
	DurationMs  int64          `json:"duration_ms"`
	ManifestURI string         `json:"manifest_uri,omitempty"`
}

// DocumentInfo identifies the design file that was exported.
type DocumentInfo struct {
	FileKey      string    `json:"file_key"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	LastModified time.Time `json:"last_modified"`
}

// ProducerInfo identifies the software that produced the assets.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// ChainInfo provides hash chaining for a tamper-evident audit log.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the unique key for this document's chain. Every run of
// the same file extends one chain.
func (d DocumentInfo) ChainKey() string {
	return d.FileKey
}

// SetChainHashes links the event to its predecessor and computes the event's
// own hash. Call this after every other field is final; later mutation
// invalidates the hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash computes the SHA256 hash of an event over its canonical
// JSON representation, excluding the event_hash field itself. Go's
// json.Marshal sorts map keys, so the encoding is deterministic.
func ComputeEventHash(evt *Event) string {
	evtCopy := *evt
	evtCopy.Chain.EventHash = ""

	canonical, err := json.Marshal(evtCopy)
	if err != nil {
		// Should never happen with well-formed events
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "export_evt_" + uuid.NewString()
}
