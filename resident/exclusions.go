package resident

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Exclusions decides which resident modules a scan skips. System modules are
// always skipped.
type Exclusions struct {
	// Prefixes skips modules whose name starts with any entry.
	Prefixes []string
	// Patterns skips modules whose name matches any glob. '/' is a
	// separator: "github.com/*" does not cross it, "github.com/**" does.
	Patterns []string
	// IncludeSynthesized keeps synthesized modules in the scan.
	IncludeSynthesized bool
}

// Filter is a compiled Exclusions.
type Filter struct {
	globs              []glob.Glob
	includeSynthesized bool
}

// Compile validates the patterns.
func (e Exclusions) Compile() (*Filter, error) {
	f := &Filter{includeSynthesized: e.IncludeSynthesized}
	for _, prefix := range e.Prefixes {
		g, err := glob.Compile(glob.QuoteMeta(prefix) + "**")
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion prefix %q: %w", prefix, err)
		}
		f.globs = append(f.globs, g)
	}
	for _, pattern := range e.Patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Excluded reports whether m is skipped.
func (f *Filter) Excluded(m Module) bool {
	switch m.Kind {
	case System:
		return true
	case Synthesized:
		if !f.includeSynthesized {
			return true
		}
	}
	for _, g := range f.globs {
		if g.Match(m.Name) {
			return true
		}
	}
	return false
}

// Apply returns the modules of src that are not excluded, in order.
func (f *Filter) Apply(src Source) []Module {
	var out []Module
	for _, m := range src.Modules() {
		if !f.Excluded(m) {
			out = append(out, m)
		}
	}
	return out
}
