package export

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// PathFilter restricts enumeration to nodes whose slash-joined path matches
// the include patterns and none of the exclude patterns. A nil filter or an
// empty include list admits everything; exclude always wins.
type PathFilter struct {
	include []string
	exclude []string
}

// NewPathFilter validates the patterns up front so a bad glob fails the job
// before any network work.
func NewPathFilter(include, exclude []string) (*PathFilter, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid path pattern %q", p)
		}
	}
	return &PathFilter{include: include, exclude: exclude}, nil
}

// Match reports whether a node path passes the filter.
func (f *PathFilter) Match(path string) bool {
	if f == nil {
		return true
	}
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, path); ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
