package native

import (
	"cmp"
	"errors"
	"fmt"
	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

type (
	// Registry owns loaded native modules, keyed by canonical path.
	//
	// Loads of the same path are deduplicated and reference counted: the OS
	// level module is opened on the first Load and closed when the last
	// reference is released. A Registry is safe for concurrent use.
	Registry struct {
		mu      sync.Mutex
		modules map[string]*Module
		seq     uint64
		flags   int
		debug   bool
		log     *zap.Logger
		now     func() time.Time
	}
	// Module is a loaded native module. It is owned by its Registry, callers
	// hold a counted reference obtained from [Registry.Load] and give it back
	// with [Registry.Release].
	Module struct {
		reg      *Registry
		path     string
		handle   uintptr
		loadedAt time.Time
		seq      uint64
		refs     int  // guarded by reg.mu
		pinned   bool // guarded by reg.mu

		mu      sync.RWMutex
		closed  bool
		slots   []slot
		index   map[string]int
		exports []string
	}
	// ModuleInfo is a point in time view of a Module.
	ModuleInfo struct {
		Path     string
		LoadedAt time.Time
		Refs     int
		Pinned   bool
		Symbols  []string
	}
)

// NewRegistry create an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		modules: make(map[string]*Module),
		flags:   defaultFlags,
		log:     Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Canonical returns the absolute, symlink free form of path used as registry key.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func canonical(op, path string) (string, error) {
	p, err := Canonical(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fail(ErrModuleNotFound, op, path, err)
		}
		return "", fail(ErrModuleLoad, op, path, err)
	}
	return p, nil
}

// Load returns the resident module for path, or loads it. Every successful
// Load must be paired with one Release.
func (r *Registry) Load(path string) (*Module, error) {
	p, err := canonical("load", path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(p)
}

// Pin returns the resident module for path, loading it if needed, and keeps
// one reference on behalf of the registry until UnloadAll. Pinning a pinned
// module does not add references.
func (r *Registry) Pin(path string) (*Module, error) {
	p, err := canonical("load", path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[p]; ok && m.pinned {
		return m, nil
	}
	m, err := r.load(p)
	if err != nil {
		return nil, err
	}
	m.pinned = true
	return m, nil
}

func (r *Registry) load(p string) (*Module, error) {
	if m, ok := r.modules[p]; ok {
		m.refs++
		if r.debug {
			r.log.Debug("reuse module", zap.String("path", p), zap.Int("refs", m.refs))
		}
		return m, nil
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(ErrModuleNotFound, "load", p, err)
		}
		return nil, fail(ErrModuleLoad, "load", p, err)
	}
	if fi.IsDir() {
		return nil, fail(ErrModuleLoad, "load", p, fmt.Errorf("%s is a directory", p))
	}
	h, err := openLibrary(p, r.flags)
	if err != nil {
		return nil, fail(ErrModuleLoad, "load", p, err)
	}
	r.seq++
	m := &Module{
		reg:      r,
		path:     p,
		handle:   h,
		loadedAt: r.now(),
		seq:      r.seq,
		refs:     1,
		index:    make(map[string]int),
	}
	r.modules[p] = m
	if r.debug {
		r.log.Debug("load module", zap.String("path", p), zap.String("info", spew.Sdump(m.info())))
	}
	return m, nil
}

// Release gives back one reference of m. The module is unloaded, and every
// SymbolEntry resolved from it invalidated, when the last reference goes.
func (r *Registry) Release(m *Module) error {
	if m == nil {
		return fail(ErrReleased, "release", "", nil)
	}
	if m.reg != r {
		return fail(ErrReleased, "release", m.path, errors.New("module belongs to another registry"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.release(m)
}

func (r *Registry) release(m *Module) error {
	if m.refs <= 0 {
		return fail(ErrReleased, "release", m.path, nil)
	}
	m.refs--
	if r.debug {
		r.log.Debug("release module", zap.String("path", m.path), zap.Int("refs", m.refs))
	}
	if m.refs > 0 {
		return nil
	}
	if r.modules[m.path] == m {
		delete(r.modules, m.path)
	}
	return m.unload()
}

// retain adds a reference for the duration of a call, failing on a released module.
func (r *Registry) retain(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.refs <= 0 {
		return fail(ErrReleased, "", m.path, nil)
	}
	m.refs++
	return nil
}

// UnloadAll unloads every resident module regardless of outstanding
// references, most recently loaded first. Modules and symbol entries held by
// callers become invalid.
// It must only be used when no native call of r is in flight: references held
// by a running Invoke are dropped too, and its code is unmapped under it.
func (r *Registry) UnloadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	var errs []error
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		m.refs = 0
		delete(r.modules, m.path)
		if err := m.unload(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.debug {
		r.log.Debug("unload all", zap.Int("modules", len(all)))
	}
	return errors.Join(errs...)
}

// Modules returns the resident modules in load order.
func (r *Registry) Modules() []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted()
}

// Resident reports whether path is currently loaded.
func (r *Registry) Resident(path string) bool {
	p, err := Canonical(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.modules[p]
	return ok
}

func (r *Registry) sorted() []*Module {
	all := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		all = append(all, m)
	}
	slices.SortFunc(all, func(a, b *Module) int { return cmp.Compare(a.seq, b.seq) })
	return all
}

func (m *Module) unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for i := range m.slots {
		m.slots[i] = slot{}
	}
	m.slots = nil
	m.index = nil
	m.exports = nil
	if err := closeLibrary(m.handle); err != nil {
		return fail(ErrModuleLoad, "unload", m.path, err)
	}
	m.handle = 0
	return nil
}

// Release is shorthand for m's Registry Release.
func (m *Module) Release() error {
	return m.reg.Release(m)
}

// Path is the canonical file path of the module.
func (m *Module) Path() string { return m.path }

// LoadedAt is when the OS loaded the module.
func (m *Module) LoadedAt() time.Time { return m.loadedAt }

// Refs is the current reference count, zero once unloaded.
func (m *Module) Refs() int {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.refs
}

// Loaded reports whether m is still resident.
func (m *Module) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Info snapshots m.
func (m *Module) Info() ModuleInfo {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.info()
}

// info requires reg.mu.
func (m *Module) info() ModuleInfo {
	return ModuleInfo{
		Path:     m.path,
		LoadedAt: m.loadedAt,
		Refs:     m.refs,
		Pinned:   m.pinned,
		Symbols:  m.Symbols(),
	}
}
