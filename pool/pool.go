package pool

import (
	"errors"
	. "github.com/ZenLiuCN/native"
	"slices"
	"sync"
)

// Pool pins a group of modules of one Registry, so they share a lifetime:
// each module is loaded once into the pool and released when the pool closes.
// Releasing a pooled module through Registry directly bypasses the pool.
type Pool struct {
	Registry *Registry
	Modules map[string]*Module // by canonical path
	Loaded  []*Module          // in load order
	sync.RWMutex
}

var (
	ErrAlreadyLoad = errors.New("module already loaded")
	ErrNotLoad     = errors.New("module not loaded")
	ErrClosed      = errors.New("pool closed")
)

// NewPool create new pool over r, or over the default registry when r is nil.
func NewPool(r *Registry) *Pool {
	if r == nil {
		r = Default()
	}
	return &Pool{Registry: r, Modules: make(map[string]*Module)}
}

// Load adds the module at path to the pool.
func (p *Pool) Load(path string) (m *Module, err error) {
	p.Lock()
	defer p.Unlock()
	if p.Modules == nil {
		return nil, ErrClosed
	}
	if c, err := Canonical(path); err == nil {
		if _, ok := p.Modules[c]; ok {
			return nil, ErrAlreadyLoad
		}
	}
	if m, err = p.Registry.Load(path); err != nil {
		return
	}
	p.Modules[m.Path()] = m
	p.Loaded = append(p.Loaded, m)
	return
}

// Reload releases the pooled module at path and loads it again. Symbols
// resolved from the previous module become invalid; the OS only reloads the
// file when no one else holds it.
func (p *Pool) Reload(path string) (m *Module, err error) {
	p.Lock()
	defer p.Unlock()
	old, err := p.lookup(path)
	if err != nil {
		return
	}
	i := slices.Index(p.Loaded, old)
	p.Loaded = slices.Delete(p.Loaded, i, i+1)
	delete(p.Modules, old.Path())
	if err = p.Registry.Release(old); err != nil {
		return
	}
	if m, err = p.Registry.Load(path); err != nil {
		return
	}
	p.Modules[m.Path()] = m
	p.Loaded = append(p.Loaded, m)
	return
}

// Unload releases the pooled module at path.
func (p *Pool) Unload(path string) error {
	p.Lock()
	defer p.Unlock()
	m, err := p.lookup(path)
	if err != nil {
		return err
	}
	i := slices.Index(p.Loaded, m)
	p.Loaded = slices.Delete(p.Loaded, i, i+1)
	delete(p.Modules, m.Path())
	return p.Registry.Release(m)
}

// Require resolves symbolName in the pooled module at path.
func (p *Pool) Require(path, symbolName string) (SymbolEntry, error) {
	p.RLock()
	defer p.RUnlock()
	m, err := p.lookup(path)
	if err != nil {
		return SymbolEntry{}, err
	}
	return m.Resolve(symbolName)
}

// Invoke calls symbolName of the pooled module at path.
func (p *Pool) Invoke(path, symbolName string, shape Shape, args Args) (string, error) {
	p.RLock()
	m, err := p.lookup(path)
	p.RUnlock()
	if err != nil {
		return "", err
	}
	return m.Invoke(symbolName, shape, args)
}

// Paths lists the pooled module paths in load order.
func (p *Pool) Paths() []string {
	p.RLock()
	defer p.RUnlock()
	paths := make([]string, len(p.Loaded))
	for i, m := range p.Loaded {
		paths[i] = m.Path()
	}
	return paths
}

// Close releases every pooled module, most recent first.
func (p *Pool) Close() error {
	p.Lock()
	defer p.Unlock()
	var errs []error
	for i := len(p.Loaded) - 1; i >= 0; i-- {
		if err := p.Registry.Release(p.Loaded[i]); err != nil {
			errs = append(errs, err)
		}
	}
	p.Loaded = nil
	p.Modules = nil
	return errors.Join(errs...)
}

// lookup requires p's lock.
func (p *Pool) lookup(path string) (*Module, error) {
	if p.Modules == nil {
		return nil, ErrClosed
	}
	c, err := Canonical(path)
	if err != nil {
		return nil, ErrNotLoad
	}
	m, ok := p.Modules[c]
	if !ok {
		return nil, ErrNotLoad
	}
	return m, nil
}
