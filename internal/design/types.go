package design

import "time"

// File is the document metadata plus the full node tree as returned by
// the files endpoint.
type File struct {
	Key          string    `json:"-"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	LastModified time.Time `json:"lastModified"`
	Document     *Node     `json:"document"`
}

// Node is one element of the document tree. Children preserve the
// service's ordering.
type Node struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Visible  *bool   `json:"visible,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// IsVisible reports whether the node is rendered. The service omits the
// field for visible nodes, so a nil pointer means visible.
func (n *Node) IsVisible() bool {
	return n.Visible == nil || *n.Visible
}

// RenderOptions selects the output encoding for a bulk render call.
type RenderOptions struct {
	// Format is one of png, jpg, svg, pdf.
	Format string
	// Scale is the render scale factor. Zero means the service default (1).
	Scale float64
}

// fileResponse is the wire shape of the files endpoint.
type fileResponse struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	LastModified time.Time `json:"lastModified"`
	Document     *Node     `json:"document"`
}

// imagesResponse is the wire shape of the bulk render endpoint. A null
// URL means the service could not render that node in this call.
type imagesResponse struct {
	Err    string             `json:"err,omitempty"`
	Images map[string]*string `json:"images"`
}
