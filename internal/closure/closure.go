// Package closure implements the kernel-module dependency closure walk:
// given a set of selectors (absolute .ko paths, "=subdir" subtree walks, or
// module names/aliases), it resolves every selected module plus its hard
// and soft "pre" dependencies.
//
// Filters (name/path/symbol include-exclude predicates) are applied only to
// the initial selector fan-out, never to a module discovered as someone
// else's dependency -- this is a deliberate, preserved behavior (see
// DESIGN.md's Open Question log), not an oversight.
package closure

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/ramforge/ramforge/internal/kmoddb"
)

// Filters holds the optional include/exclude predicates applied only at
// the top-level selector fan-out.
type Filters struct {
	NameExclude   func(name string) bool
	PathInclude   func(path string) bool
	PathExclude   func(path string) bool
	SymbolInclude func(symbols []string) bool
	SymbolExclude func(symbols []string) bool
}

func (f Filters) empty() bool {
	return f.NameExclude == nil && f.PathInclude == nil && f.PathExclude == nil &&
		f.SymbolInclude == nil && f.SymbolExclude == nil
}

// allow reports whether m passes every configured filter.
func (f Filters) allow(m kmoddb.Module) bool {
	if f.empty() {
		return true
	}
	if f.NameExclude != nil && f.NameExclude(m.Name()) {
		return false
	}
	if f.PathInclude != nil && !f.PathInclude(m.Path()) {
		return false
	}
	if f.PathExclude != nil && f.PathExclude(m.Path()) {
		return false
	}
	syms := m.DependencySymbols()
	if f.SymbolInclude != nil && !f.SymbolInclude(syms) {
		return false
	}
	if f.SymbolExclude != nil && f.SymbolExclude(syms) {
		return false
	}
	return true
}

// Resolver walks the kernel-module dependency closure.
type Resolver struct {
	db kmoddb.Context

	mu      sync.Mutex
	visited map[string]struct{} // by module path
	result  []kmoddb.Module
}

// New returns a Resolver backed by db.
func New(db kmoddb.Context) *Resolver {
	return &Resolver{db: db, visited: make(map[string]struct{})}
}

// Install resolves every selector (applying filters to each selector's
// direct hit only) and returns the full closure in discovery order. Lookup
// errors across all selectors are collected and returned together; when any
// occur, the closure is still returned so a caller can decide whether a
// partial result is useful, but per spec the orchestrator must treat a
// non-nil error as "abort before any write".
func (r *Resolver) Install(selectors []string, filters Filters) ([]kmoddb.Module, error) {
	var errs *multierror.Error

	for _, sel := range selectors {
		mods, err := r.expandSelector(sel)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("selector %q: %w", sel, err))
			continue
		}
		for _, m := range mods {
			if !filters.allow(m) {
				continue
			}
			r.installModule(m)
		}
	}

	return r.result, errs.ErrorOrNil()
}

// expandSelector resolves one selector to the set of modules it directly
// names, without walking dependencies: "/"-prefixed is a literal .ko path,
// "=subdir" walks <kerneldir>/kernel/subdir for every .ko under it, anything
// else is a name-or-alias lookup.
func (r *Resolver) expandSelector(sel string) ([]kmoddb.Module, error) {
	switch {
	case strings.HasPrefix(sel, "/"):
		return r.moduleFromPathLookup(sel)

	case strings.HasPrefix(sel, "="):
		root := filepath.Join(r.db.Dirname(), "kernel", sel[1:])
		var mods []kmoddb.Module
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !isKoFile(path) {
				return nil
			}
			hits, err := r.moduleFromPathLookup(path)
			if err != nil {
				return err
			}
			mods = append(mods, hits...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return mods, nil

	default:
		// Name lookup first; on failure, strip up to two trailing
		// extensions and retry as a lookup (alias match), mirroring upstream's
		// repeated file_stem() stripping for names like "foo.ko" or
		// "foo.ko.xz" passed in directly.
		name := sel
		for attempt := 0; attempt < 3; attempt++ {
			if m, err := r.db.ModuleFromName(name); err == nil {
				return []kmoddb.Module{m}, nil
			}
			if mods, err := r.db.ModuleFromLookup(name); err == nil {
				return mods, nil
			}
			stripped := stripOneExt(name)
			if stripped == name {
				break
			}
			name = stripped
		}
		return nil, fmt.Errorf("%w: %s", kmoddb.ErrNotFound, sel)
	}
}

// moduleFromPathLookup resolves a .ko path to the module(s) a database
// lookup of its canonical name would return. A path only ever identifies
// its name; the database's ModuleFromLookup handle (which may resolve an
// alias to more than one module) is always the one actually installed,
// mirroring install_modules's module_new_from_path(...).name() ->
// module_new_from_lookup(&name) chain.
func (r *Resolver) moduleFromPathLookup(path string) ([]kmoddb.Module, error) {
	m, err := r.db.ModuleFromPath(path)
	if err != nil {
		return nil, err
	}
	return r.db.ModuleFromLookup(m.Name())
}

func stripOneExt(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func isKoFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, ".ko")
}

// installModule records m (if not already visited) and recurses into its
// hard dependencies and soft "pre" dependencies. Filters are never
// consulted here: only expandSelector's direct hits are filtered.
func (r *Resolver) installModule(m kmoddb.Module) {
	r.mu.Lock()
	if _, ok := r.visited[m.Path()]; ok {
		r.mu.Unlock()
		return
	}
	r.visited[m.Path()] = struct{}{}
	r.result = append(r.result, m)
	r.mu.Unlock()

	for _, dep := range m.Dependencies() {
		r.installModule(dep)
	}
	pre, _ := m.SoftDependencies()
	for _, dep := range pre {
		r.installModule(dep)
	}
}
