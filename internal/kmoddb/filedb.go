package kmoddb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileContext is a Context backed by the plain-text index files depmod(8)
// writes under <kerneldir>: modules.dep, modules.alias, modules.softdep,
// modules.symbols and modules.builtin. It never parses a .ko file's ELF
// content; everything it knows comes from depmod's own precomputed index,
// which is the thinnest adapter that can answer every Context method
// without re-implementing libkmod.
type FileContext struct {
	dir string

	// modules.dep: module path -> hard dependency paths.
	deps map[string][]string
	// modules.softdep: module name -> (pre names, post names).
	softdeps map[string][2][]string
	// modules.alias: alias pattern -> module name.
	aliases []aliasEntry
	// modules.symbols: symbol name (its "symbol:" prefix removed) -> module name.
	symbolOwners map[string]string
	// modules.builtin: set of built-in module paths.
	builtin map[string]bool
	// name -> path, derived from modules.dep keys.
	nameToPath map[string]string
	// currently loaded modules, from /proc/modules if present.
	loaded []loadedModule
}

type aliasEntry struct {
	pattern string
	module  string
}

type loadedModule struct {
	name     string
	size     int64
	refcount int
	holders  []string
}

// NewFileContext loads depmod's index files from dir (typically
// "<kerneldir>" i.e. "/lib/modules/<release>"). An empty dir means
// "/lib/modules/<release>" for the running kernel's release. Missing optional
// files (modules.softdep, modules.symbols, modules.builtin) are treated as
// empty, not an error; a missing modules.dep is.
func NewFileContext(dir string) (*FileContext, error) {
	if dir == "" {
		release, err := os.ReadFile("/proc/sys/kernel/osrelease")
		if err != nil {
			return nil, fmt.Errorf("kmoddb: kernel release: %w", err)
		}
		dir = filepath.Join("/lib/modules", strings.TrimSpace(string(release)))
	}

	fc := &FileContext{
		dir:          dir,
		deps:         make(map[string][]string),
		softdeps:     make(map[string][2][]string),
		symbolOwners: make(map[string]string),
		builtin:      make(map[string]bool),
		nameToPath:   make(map[string]string),
	}

	if err := fc.loadDeps(filepath.Join(dir, "modules.dep")); err != nil {
		return nil, fmt.Errorf("kmoddb: %w", err)
	}
	_ = fc.loadSoftdeps(filepath.Join(dir, "modules.softdep"))
	_ = fc.loadAliases(filepath.Join(dir, "modules.alias"))
	_ = fc.loadSymbols(filepath.Join(dir, "modules.symbols"))
	_ = fc.loadBuiltin(filepath.Join(dir, "modules.builtin"))
	fc.loaded, _ = loadProcModules()

	return fc, nil
}

func moduleNameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".xz")
	base = strings.TrimSuffix(base, ".zst")
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".ko")
	return strings.ReplaceAll(base, "-", "_")
}

func (fc *FileContext) loadDeps(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		key := strings.TrimSpace(parts[0])
		var deps []string
		if len(parts) == 2 {
			for _, d := range strings.Fields(parts[1]) {
				deps = append(deps, d)
			}
		}
		fc.deps[key] = deps
		fc.nameToPath[moduleNameFromPath(key)] = key
	}
	return sc.Err()
}

func (fc *FileContext) loadSoftdeps(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "softdep" {
			continue
		}
		name := fields[1]
		var pre, post []string
		mode := ""
		for _, f := range fields[2:] {
			switch f {
			case "pre:":
				mode = "pre"
			case "post:":
				mode = "post"
			default:
				switch mode {
				case "pre":
					pre = append(pre, f)
				case "post":
					post = append(post, f)
				}
			}
		}
		fc.softdeps[name] = [2][]string{pre, post}
	}
	return sc.Err()
}

func (fc *FileContext) loadAliases(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 || fields[0] != "alias" {
			continue
		}
		fc.aliases = append(fc.aliases, aliasEntry{pattern: fields[1], module: fields[2]})
	}
	return sc.Err()
}

func (fc *FileContext) loadSymbols(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 || fields[0] != "alias" || !strings.HasPrefix(fields[1], "symbol:") {
			continue
		}
		fc.symbolOwners[strings.TrimPrefix(fields[1], "symbol:")] = fields[2]
	}
	return sc.Err()
}

func (fc *FileContext) loadBuiltin(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			fc.builtin[line] = true
		}
	}
	return sc.Err()
}

func loadProcModules() ([]loadedModule, error) {
	f, err := os.Open("/proc/modules")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []loadedModule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		lm := loadedModule{name: fields[0]}
		fmt.Sscanf(fields[1], "%d", &lm.size)
		fmt.Sscanf(fields[2], "%d", &lm.refcount)
		if len(fields) >= 4 && fields[3] != "-" {
			lm.holders = strings.Split(strings.TrimRight(fields[3], ","), ",")
		}
		out = append(out, lm)
	}
	return out, sc.Err()
}

func (fc *FileContext) newModule(path string) *fileModule {
	name := moduleNameFromPath(path)
	m := &fileModule{db: fc, name: name, path: path}
	for _, lm := range fc.loaded {
		if lm.name == name {
			m.refcount = lm.refcount
			m.size = lm.size
			m.holderNames = lm.holders
			break
		}
	}
	return m
}

// ModulesLoaded implements Context.
func (fc *FileContext) ModulesLoaded() ([]Module, error) {
	var out []Module
	for _, lm := range fc.loaded {
		path, ok := fc.nameToPath[lm.name]
		if !ok {
			path = lm.name
		}
		out = append(out, fc.newModule(path))
	}
	return out, nil
}

// ModuleFromPath implements Context.
func (fc *FileContext) ModuleFromPath(path string) (Module, error) {
	if _, ok := fc.deps[path]; !ok {
		if !fc.builtin[path] {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}
	return fc.newModule(path), nil
}

// ModuleFromName implements Context.
func (fc *FileContext) ModuleFromName(name string) (Module, error) {
	name = strings.ReplaceAll(name, "-", "_")
	path, ok := fc.nameToPath[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fc.newModule(path), nil
}

// ModuleFromLookup implements Context: it resolves alias, matching against
// modules.alias glob patterns (depmod writes shell-glob-style patterns).
func (fc *FileContext) ModuleFromLookup(alias string) ([]Module, error) {
	if m, err := fc.ModuleFromName(alias); err == nil {
		return []Module{m}, nil
	}

	var out []Module
	for _, a := range fc.aliases {
		ok, err := filepath.Match(a.pattern, alias)
		if err != nil {
			continue
		}
		if ok {
			if m, err := fc.ModuleFromName(a.module); err == nil {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alias)
	}
	return out, nil
}

// Dirname implements Context.
func (fc *FileContext) Dirname() string { return fc.dir }

type fileModule struct {
	db          *FileContext
	name        string
	path        string
	refcount    int
	size        int64
	holderNames []string
}

func (m *fileModule) Name() string { return m.name }
func (m *fileModule) Path() string { return m.path }
func (m *fileModule) Refcount() int { return m.refcount }
func (m *fileModule) Size() int64   { return m.size }

func (m *fileModule) Holders() []Module {
	var out []Module
	for _, n := range m.holderNames {
		if hm, err := m.db.ModuleFromName(n); err == nil {
			out = append(out, hm)
		}
	}
	return out
}

func (m *fileModule) Dependencies() []Module {
	var out []Module
	for _, dep := range m.db.deps[m.path] {
		out = append(out, m.db.newModule(dep))
	}
	return out
}

func (m *fileModule) SoftDependencies() (pre, post []Module) {
	sd, ok := m.db.softdeps[m.name]
	if !ok {
		return nil, nil
	}
	for _, n := range sd[0] {
		if dm, err := m.db.ModuleFromName(n); err == nil {
			pre = append(pre, dm)
		}
	}
	for _, n := range sd[1] {
		if dm, err := m.db.ModuleFromName(n); err == nil {
			post = append(post, dm)
		}
	}
	return pre, post
}

func (m *fileModule) DependencySymbols() []string {
	var out []string
	for sym, owner := range m.db.symbolOwners {
		if owner == m.name {
			out = append(out, sym)
		}
	}
	return out
}

func (m *fileModule) Dirname() string {
	return filepath.Dir(m.path)
}
