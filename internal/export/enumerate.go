package export

import (
	"context"
	"fmt"

	"github.com/drafthaus/frame-exporter/internal/design"
)

// Enumerator walks the remote document tree once and produces the ordered,
// de-duplicated list of exportable nodes.
type Enumerator struct {
	svc    Service
	types  map[string]bool
	filter *PathFilter
}

// NewEnumerator creates an enumerator exporting the given node types.
// An empty type list falls back to DefaultTypes.
func NewEnumerator(svc Service, types []string, filter *PathFilter) *Enumerator {
	if len(types) == 0 {
		types = DefaultTypes
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &Enumerator{svc: svc, types: set, filter: filter}
}

// Enumerate fetches the document and returns it together with its
// exportable nodes in depth-first order. Invisible subtrees are pruned
// whole; duplicate ids keep their first occurrence. Any fetch or decode
// failure is fatal to the job: with no node list there is nothing to
// export.
func (e *Enumerator) Enumerate(ctx context.Context, fileKey string) (*design.File, []NodeRef, error) {
	file, err := e.svc.GetFile(ctx, fileKey)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document %s: %w", fileKey, err)
	}
	if file.Document == nil {
		return nil, nil, fmt.Errorf("document %s has no node tree", fileKey)
	}

	w := &walker{types: e.types, filter: e.filter, seen: make(map[string]bool)}
	// The document root is a container, never exportable itself, and its
	// name duplicates the file name; paths start at its children.
	if file.Document.IsVisible() {
		for _, child := range file.Document.Children {
			w.walk(child, nil)
		}
	}
	return file, w.out, nil
}

type walker struct {
	types  map[string]bool
	filter *PathFilter
	seen   map[string]bool
	out    []NodeRef
}

func (w *walker) walk(node *design.Node, path []string) {
	if node == nil || !node.IsVisible() {
		return
	}

	if w.types[node.Type] && !w.seen[node.ID] {
		ref := NodeRef{
			ID:   node.ID,
			Name: node.Name,
			Path: append([]string(nil), path...),
		}
		if w.filter.Match(ref.PathString()) {
			w.seen[node.ID] = true
			w.out = append(w.out, ref)
		}
	}

	if len(node.Children) == 0 {
		return
	}
	childPath := append(append([]string(nil), path...), node.Name)
	for _, child := range node.Children {
		w.walk(child, childPath)
	}
}
