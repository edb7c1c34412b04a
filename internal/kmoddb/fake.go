package kmoddb

// Fake is a minimal in-memory Context for tests: it lets callers build a
// module graph by hand rather than depend on the host's real module
// metadata, the same dependency-injection shape the teacher repo uses for
// its VFS test double.
type Fake struct {
	Dir     string
	Modules map[string]*FakeModule // keyed by name
	Aliases map[string][]string    // alias -> module names
}

// FakeModule is a hand-built Module for use with Fake.
type FakeModule struct {
	NameV         string
	PathV         string
	RefcountV     int
	SizeV         int64
	HoldersV      []string
	DepsV         []string
	SoftPreV      []string
	SoftPostV     []string
	SymbolsV      []string

	db *Fake
}

func (f *Fake) resolve(name string) (Module, error) {
	m, ok := f.Modules[name]
	if !ok {
		return nil, ErrNotFound
	}
	m.db = f
	return m, nil
}

func (f *Fake) ModulesLoaded() ([]Module, error) {
	var out []Module
	for _, m := range f.Modules {
		m.db = f
		if m.RefcountV > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) ModuleFromPath(path string) (Module, error) {
	for _, m := range f.Modules {
		if m.PathV == path {
			m.db = f
			return m, nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) ModuleFromName(name string) (Module, error) { return f.resolve(name) }

func (f *Fake) ModuleFromLookup(alias string) ([]Module, error) {
	if m, err := f.resolve(alias); err == nil {
		return []Module{m}, nil
	}
	var out []Module
	for _, name := range f.Aliases[alias] {
		if m, err := f.resolve(name); err == nil {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (f *Fake) Dirname() string { return f.Dir }

func (m *FakeModule) Name() string     { return m.NameV }
func (m *FakeModule) Path() string     { return m.PathV }
func (m *FakeModule) Refcount() int    { return m.RefcountV }
func (m *FakeModule) Size() int64      { return m.SizeV }
func (m *FakeModule) Dirname() string  { return m.db.Dir }

func (m *FakeModule) Holders() []Module {
	var out []Module
	for _, n := range m.HoldersV {
		if h, err := m.db.resolve(n); err == nil {
			out = append(out, h)
		}
	}
	return out
}

func (m *FakeModule) Dependencies() []Module {
	var out []Module
	for _, n := range m.DepsV {
		if d, err := m.db.resolve(n); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func (m *FakeModule) SoftDependencies() (pre, post []Module) {
	for _, n := range m.SoftPreV {
		if d, err := m.db.resolve(n); err == nil {
			pre = append(pre, d)
		}
	}
	for _, n := range m.SoftPostV {
		if d, err := m.db.resolve(n); err == nil {
			post = append(post, d)
		}
	}
	return pre, post
}

func (m *FakeModule) DependencySymbols() []string { return m.SymbolsV }
