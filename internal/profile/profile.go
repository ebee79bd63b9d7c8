// Package profile routes node paths to render options. Rules let one
// export run render marketing frames at 2x png while icons go out as svg.
package profile

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrDuplicatePattern is returned when two rules share a pattern.
var ErrDuplicatePattern = errors.New("duplicate profile pattern")

// Rule maps node paths matching Pattern to render options. Empty Format
// and zero Scale inherit the job defaults.
type Rule struct {
	// Pattern is a doublestar glob matched against the slash-joined node
	// path, e.g. "Pages/Marketing/**".
	Pattern string  `yaml:"pattern"`
	Format  string  `yaml:"format"`
	Scale   float64 `yaml:"scale"`
}

// Validate checks the rule in isolation.
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if !doublestar.ValidatePattern(r.Pattern) {
		return fmt.Errorf("invalid pattern %q", r.Pattern)
	}
	switch r.Format {
	case "", "png", "jpg", "svg", "pdf":
	default:
		return fmt.Errorf("format must be png, jpg, svg or pdf, got %q", r.Format)
	}
	if r.Scale < 0 || r.Scale > 4 {
		return fmt.Errorf("scale must be between 0 and 4, got %g", r.Scale)
	}
	return nil
}

// Router matches node paths against an ordered rule list. The first
// matching rule wins, so earlier rules take priority.
type Router struct {
	rules []Rule
}

// NewRouter validates the rules and builds a router. Rule order is
// preserved; a nil or empty rule set is valid and routes nothing.
func NewRouter(rules []Rule) (*Router, error) {
	seen := make(map[string]bool, len(rules))
	out := make([]Rule, len(rules))
	copy(out, rules)

	for i, rule := range out {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[rule.Pattern] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePattern, rule.Pattern)
		}
		seen[rule.Pattern] = true
	}

	return &Router{rules: out}, nil
}

// Route returns the first rule matching the slash-joined node path.
func (r *Router) Route(path string) (*Rule, bool) {
	for i := range r.rules {
		ok, err := doublestar.Match(r.rules[i].Pattern, path)
		if err != nil {
			// Patterns are validated at construction.
			continue
		}
		if ok {
			return &r.rules[i], true
		}
	}
	return nil, false
}

// Resolve returns the effective format and scale for a node path,
// falling back to the given defaults for unmatched paths and for rule
// fields left empty.
func (r *Router) Resolve(path, defaultFormat string, defaultScale float64) (string, float64) {
	rule, ok := r.Route(path)
	if !ok {
		return defaultFormat, defaultScale
	}
	format := rule.Format
	if format == "" {
		format = defaultFormat
	}
	scale := rule.Scale
	if scale == 0 {
		scale = defaultScale
	}
	return format, scale
}

// Rules returns the configured rules in priority order.
func (r *Router) Rules() []Rule {
	return r.rules
}
