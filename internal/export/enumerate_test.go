package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drafthaus/frame-exporter/internal/design"
)

// fakeService implements Service with pluggable functions. Tests set only
// the calls they expect.
type fakeService struct {
	getFile  func(ctx context.Context, fileKey string) (*design.File, error)
	metadata func(ctx context.Context, fileKey string) (*design.File, error)
	render   func(ctx context.Context, fileKey string, ids []string, opts design.RenderOptions) (map[string]string, error)
	download func(ctx context.Context, url string) (io.ReadCloser, error)
}

func (f *fakeService) GetFile(ctx context.Context, fileKey string) (*design.File, error) {
	return f.getFile(ctx, fileKey)
}

func (f *fakeService) GetFileMetadata(ctx context.Context, fileKey string) (*design.File, error) {
	if f.metadata != nil {
		return f.metadata(ctx, fileKey)
	}
	return f.getFile(ctx, fileKey)
}

func (f *fakeService) RenderImages(ctx context.Context, fileKey string, ids []string, opts design.RenderOptions) (map[string]string, error) {
	return f.render(ctx, fileKey, ids, opts)
}

func (f *fakeService) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	return f.download(ctx, url)
}

func discardLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func node(id, name, typ string, children ...*design.Node) *design.Node {
	return &design.Node{ID: id, Name: name, Type: typ, Children: children}
}

func hide(n *design.Node) *design.Node {
	visible := false
	n.Visible = &visible
	return n
}

func serveTree(doc *design.Node) *fakeService {
	return &fakeService{
		getFile: func(ctx context.Context, fileKey string) (*design.File, error) {
			return &design.File{Key: fileKey, Name: "Site", Version: "v42", Document: doc}, nil
		},
	}
}

func nodeIDs(nodes []NodeRef) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestEnumerateDepthFirstOrder(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS",
			node("2:1", "Hero", "FRAME"),
			node("2:2", "Cards", "GROUP",
				node("3:1", "Card", "COMPONENT"),
				node("3:2", "Badge", "FRAME"),
			),
			node("2:3", "Footer", "FRAME"),
		),
		node("1:2", "Page 2", "CANVAS",
			node("4:1", "Hero", "FRAME"),
		),
	)

	file, nodes, err := NewEnumerator(serveTree(doc), nil, nil).Enumerate(context.Background(), "key1")
	require.NoError(t, err)

	assert.Equal(t, "Site", file.Name)
	assert.Equal(t, []string{"2:1", "3:1", "3:2", "2:3", "4:1"}, nodeIDs(nodes))

	// Containers contribute to the path but are not exported themselves.
	assert.Equal(t, []string{"Page 1", "Cards"}, nodes[1].Path)
	assert.Equal(t, "Page 1/Cards/Card", nodes[1].PathString())
	assert.Equal(t, "Page 2/Hero", nodes[4].PathString())
}

func TestEnumeratePrunesInvisibleSubtrees(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS",
			node("2:1", "Hero", "FRAME"),
			hide(node("2:2", "Drafts", "GROUP",
				node("3:1", "Sketch", "FRAME"),
			)),
			hide(node("2:3", "Old Footer", "FRAME")),
		),
	)

	_, nodes, err := NewEnumerator(serveTree(doc), nil, nil).Enumerate(context.Background(), "key1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2:1"}, nodeIDs(nodes))
}

func TestEnumerateDeduplicatesByFirstOccurrence(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS",
			node("2:1", "Shared", "COMPONENT"),
		),
		node("1:2", "Page 2", "CANVAS",
			node("2:1", "Shared", "COMPONENT"),
			node("2:2", "Local", "FRAME"),
		),
	)

	_, nodes, err := NewEnumerator(serveTree(doc), nil, nil).Enumerate(context.Background(), "key1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2:1", "2:2"}, nodeIDs(nodes))
	assert.Equal(t, []string{"Page 1"}, nodes[0].Path, "first occurrence wins")
}

func TestEnumerateFiltersByType(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS",
			node("2:1", "Hero", "FRAME"),
			node("2:2", "Card", "COMPONENT"),
			node("2:3", "Note", "TEXT"),
		),
	)

	_, nodes, err := NewEnumerator(serveTree(doc), []string{"COMPONENT"}, nil).Enumerate(context.Background(), "key1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2:2"}, nodeIDs(nodes))
}

func TestEnumerateAppliesPathFilter(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS",
			node("2:1", "Hero", "FRAME"),
			node("2:2", "Draft Hero", "FRAME"),
		),
		node("1:2", "Page 2", "CANVAS",
			node("3:1", "Hero", "FRAME"),
		),
	)

	filter, err := NewPathFilter([]string{"Page 1/**"}, []string{"**/Draft*"})
	require.NoError(t, err)

	_, nodes, err := NewEnumerator(serveTree(doc), nil, filter).Enumerate(context.Background(), "key1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2:1"}, nodeIDs(nodes))
}

func TestEnumerateFetchFailureIsFatal(t *testing.T) {
	svc := &fakeService{
		getFile: func(ctx context.Context, fileKey string) (*design.File, error) {
			return nil, errors.New("boom")
		},
	}

	_, _, err := NewEnumerator(svc, nil, nil).Enumerate(context.Background(), "key1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch document key1")
}

func TestEnumerateMissingTreeIsFatal(t *testing.T) {
	svc := &fakeService{
		getFile: func(ctx context.Context, fileKey string) (*design.File, error) {
			return &design.File{Key: fileKey, Name: "Empty"}, nil
		},
	}

	_, _, err := NewEnumerator(svc, nil, nil).Enumerate(context.Background(), "key1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no node tree")
}

func TestEnumerateEmptyDocument(t *testing.T) {
	doc := node("0:0", "Document", "DOCUMENT",
		node("1:1", "Page 1", "CANVAS"),
	)

	_, nodes, err := NewEnumerator(serveTree(doc), nil, nil).Enumerate(context.Background(), "key1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
