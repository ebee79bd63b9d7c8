// Package export implements the batch asset-export pipeline: node
// enumeration, bulk URL resolution, and a bounded worker pool streaming
// assets to storage under a global rate-limit governor.
package export

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/drafthaus/frame-exporter/internal/design"
)

// Service is the slice of the design-file API the pipeline consumes.
// *design.Client satisfies it; tests substitute mocks.
type Service interface {
	GetFile(ctx context.Context, fileKey string) (*design.File, error)
	GetFileMetadata(ctx context.Context, fileKey string) (*design.File, error)
	RenderImages(ctx context.Context, fileKey string, ids []string, opts design.RenderOptions) (map[string]string, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

var _ Service = (*design.Client)(nil)

// NodeRef identifies one exportable node. Path is the ancestor name chain
// from the page down, not including the node itself. Immutable once
// enumerated.
type NodeRef struct {
	ID   string
	Name string
	Path []string
}

// PathString returns the slash-joined path including the node's own name,
// the form used for filtering and render-profile routing.
func (n NodeRef) PathString() string {
	if len(n.Path) == 0 {
		return n.Name
	}
	return strings.Join(n.Path, "/") + "/" + n.Name
}

// RenderGroup pairs nodes with the render options they share. Nodes within
// a group are batched together for URL resolution.
type RenderGroup struct {
	Options design.RenderOptions
	Nodes   []NodeRef
}

// ResolvedNode is a node whose download URL has been resolved.
type ResolvedNode struct {
	Node    NodeRef
	URL     string
	Options design.RenderOptions
}

// Batch is one unit of scheduler output: the nodes resolved by a bulk call
// plus any nodes that failed resolution terminally.
type Batch struct {
	Resolved []ResolvedNode
	Failed   []Result
}

// Task is one download unit of work. Attempt is mutated only by the worker
// that owns the task.
type Task struct {
	Node      NodeRef
	URL       string
	TargetKey string
	Options   design.RenderOptions
	Attempt   int
}

// Result is the terminal outcome for one node. Err == nil means the asset
// was written to storage at Path.
type Result struct {
	Node     NodeRef
	Options  design.RenderOptions
	Path     string
	Bytes    int64
	Checksum string
	Elapsed  time.Duration
	Err      error
}
