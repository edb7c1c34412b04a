// Package resolve implements the ELF dynamic-dependency closure walk: given
// a set of seed binaries, it discovers every shared library they (and their
// transitive NEEDED entries) require and reports the full closure.
//
// Lookup order for each NEEDED entry, exactly as upstream: the object's own
// RPATH/RUNPATH search paths first, then the ld.so.cache, then the default
// library directories. A missing ld.so.cache is a soft failure (the
// resolver just skips that tier); ld.so.cache hits are never deduplicated
// before being enqueued, only the shared visited set prevents a given
// canonical path from being staged twice.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ramforge/ramforge/internal/elf"
	"github.com/ramforge/ramforge/internal/ldcache"
	"github.com/ramforge/ramforge/internal/pathutil"
	"github.com/ramforge/ramforge/internal/workqueue"

	"github.com/sirupsen/logrus"
)

// Options configures a resolver run.
type Options struct {
	// LdCache is consulted after an object's own search paths are
	// exhausted. May be nil (treated as "no cache entries").
	LdCache *ldcache.Cache
	// DefaultLibDirs is consulted last, e.g. []string{"/lib64", "/usr/lib64"}.
	DefaultLibDirs []string
	// DestDir is the staging root: a dependency already present there is
	// treated as already satisfied and is not re-enqueued.
	DestDir string
	// Workers bounds how many goroutines drain the queue concurrently.
	Workers int
	// Log receives a Warn for every dependency that could not be found
	// anywhere; such an item does not abort the run.
	Log logrus.FieldLogger
}

type workItem struct {
	path   string
	lpaths []string
}

// Resolver walks the dependency closure of a set of seed ELF objects.
type Resolver struct {
	opts   Options
	canon  *pathutil.CanonCache
	mu     sync.Mutex
	seen   map[string]struct{}
	result []string
}

// New returns a Resolver configured by opts.
func New(opts Options) *Resolver {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Resolver{
		opts:  opts,
		canon: pathutil.NewCanonCache(),
		seen:  make(map[string]struct{}),
	}
}

// visit reports whether path has not been seen before, atomically and
// permanently marking it seen. This is the single source of the
// "materialise at most once" guarantee: once a canonical path has been
// claimed, it stays claimed even if this particular attempt turns out not
// to find the file on disk, exactly as upstream's visited set is never
// un-inserted.
func (r *Resolver) visit(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[path]; ok {
		return false
	}
	r.seen[path] = struct{}{}
	return true
}

// record appends path to the discovered closure, in discovery order.
func (r *Resolver) record(path string) {
	r.mu.Lock()
	r.result = append(r.result, path)
	r.mu.Unlock()
}

// alreadyStaged reports whether path already exists under the destination
// staging root.
func (r *Resolver) alreadyStaged(path string) bool {
	if r.opts.DestDir == "" {
		return false
	}
	_, err := os.Lstat(filepath.Join(r.opts.DestDir, path))
	return err == nil
}

// Resolve computes the full dependency closure of seeds and returns every
// path (seeds included) in discovery order. A dependency that cannot be
// found is logged and ends the processing of the object that needs it; it
// never aborts the run.
func (r *Resolver) Resolve(seeds []string) ([]string, error) {
	q := workqueue.New[workItem]()
	for _, s := range seeds {
		canon, err := r.canon.CanonicalizeDir(s)
		if err != nil {
			canon = s
		}
		if r.visit(canon) {
			r.record(canon)
			q.Push(workItem{path: canon, lpaths: nil})
		}
	}

	var eg errgroup.Group
	for i := 0; i < r.opts.Workers; i++ {
		eg.Go(func() error {
			for {
				item, ok := q.Pop()
				if !ok {
					return nil
				}
				if err := r.recurse(q, item); err != nil {
					r.opts.Log.WithField("path", item.path).Warnf("dependency resolution: %v", err)
				}
				q.Done()
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return r.result, nil
}

// recurse opens the ELF object at item.path, extends item.lpaths with its
// own RPATH/RUNPATH entries, and enqueues its NEEDED dependencies in order.
// It stops at the first dependency that cannot be found and returns that
// error; the dependencies after it are not looked up.
func (r *Resolver) recurse(q *workqueue.Queue[workItem], item workItem) error {
	f, err := os.Open(item.path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := elf.Open(f)
	if err != nil {
		return fmt.Errorf("not a dynamic object: %w", err)
	}

	lpaths := append([]string(nil), item.lpaths...)
	var deps []string

	objDir := filepath.Dir(item.path)

	for _, idx := range img.DynamicSections() {
		if err := img.Load(idx); err != nil {
			return err
		}
		dyn := img.Dynamic(idx)
		if dyn == nil {
			continue
		}
		for _, e := range dyn.Entries {
			switch e.Type {
			case elf.DTRpath, elf.DTRunpath:
				for _, p := range strings.Split(e.String, ":") {
					if p == "" {
						continue
					}
					lpaths = append(lpaths, pathutil.ExpandOrigin(p, objDir))
				}
			case elf.DTNeeded:
				deps = append(deps, e.String)
			}
		}
	}

	for _, dep := range deps {
		if err := r.resolveOne(q, dep, lpaths); err != nil {
			return err
		}
	}
	return nil
}

// tryEnqueue mirrors upstream's per-lpath candidate check exactly: a
// candidate that canonicalizes to an already-visited path is treated as
// "found" regardless of whether it actually got enqueued (visited is
// permanent, never rolled back), so the search for this dependency stops at
// the first lpath that resolves to a previously-claimed path.
func (r *Resolver) tryEnqueue(q *workqueue.Queue[workItem], candidate string, lpaths []string) (found bool) {
	canon, err := r.canon.CanonicalizeDir(candidate)
	if err != nil {
		canon = candidate
	}
	if !r.visit(canon) {
		return true
	}
	if _, err := os.Lstat(canon); err != nil || r.alreadyStaged(canon) {
		return false
	}
	r.record(canon)
	q.Push(workItem{path: canon, lpaths: lpaths})
	return true
}

// resolveOne finds dep using the three-tier search order and enqueues it,
// or returns an error if it cannot be found anywhere.
func (r *Resolver) resolveOne(q *workqueue.Queue[workItem], dep string, lpaths []string) error {
	for _, lpath := range lpaths {
		if r.tryEnqueue(q, filepath.Join(lpath, dep), lpaths) {
			return nil
		}
	}

	if r.opts.LdCache != nil {
		if vals, ok := r.opts.LdCache.Get(dep); ok {
			// No dedup among vals: every cache-recorded path for this
			// soname is tried, matching upstream exactly.
			for _, v := range vals {
				r.tryEnqueue(q, v, lpaths)
			}
			return nil
		}
	}

	for _, lpath := range r.opts.DefaultLibDirs {
		if r.tryEnqueue(q, filepath.Join(lpath, dep), lpaths) {
			return nil
		}
	}

	return fmt.Errorf("unable to find dependency %q in %v", dep, lpaths)
}
