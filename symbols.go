package native

import (
	"go.uber.org/zap"
	"iter"
	"time"
)

type (
	// slot is one resolved symbol inside a module's arena.
	slot struct {
		name       string
		addr       uintptr
		resolvedAt time.Time
		bound      [shapeCount]any // adapters created by the dispatcher, per Shape
	}
	// SymbolEntry is a resolved exported name of a Module. It is only
	// meaningful while the owning module stays loaded; the native address
	// never leaves this package.
	SymbolEntry struct {
		Name       string
		ResolvedAt time.Time
		module     *Module
		index      int
		addr       uintptr
	}
)

// Module returns the module e was resolved from.
func (e SymbolEntry) Module() *Module { return e.module }

// Valid reports whether the owning module is still loaded.
func (e SymbolEntry) Valid() bool {
	return e.module != nil && e.module.Loaded()
}

// Resolve looks up name in the module, hitting the OS symbol table only on
// the first request for each name.
func (m *Module) Resolve(name string) (SymbolEntry, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return SymbolEntry{}, &Error{Kind: ErrReleased, Op: "resolve", Path: m.path, Symbol: name}
	}
	if i, ok := m.index[name]; ok {
		e := m.entry(i)
		m.mu.RUnlock()
		return e, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.resolve(name)
	if err != nil {
		return SymbolEntry{}, err
	}
	return m.entry(i), nil
}

// resolve requires m.mu held for writing.
func (m *Module) resolve(name string) (int, error) {
	if m.closed {
		return 0, &Error{Kind: ErrReleased, Op: "resolve", Path: m.path, Symbol: name}
	}
	if i, ok := m.index[name]; ok {
		return i, nil
	}
	if name == "" {
		return 0, &Error{Kind: ErrSymbolNotFound, Op: "resolve", Path: m.path}
	}
	addr, err := lookupSymbol(m.handle, name)
	if err != nil || addr == 0 {
		return 0, &Error{Kind: ErrSymbolNotFound, Op: "resolve", Path: m.path, Symbol: name, Err: err}
	}
	m.slots = append(m.slots, slot{name: name, addr: addr, resolvedAt: m.reg.now()})
	i := len(m.slots) - 1
	m.index[name] = i
	if m.reg.debug {
		m.reg.log.Debug("resolve symbol", zap.String("path", m.path), zap.String("symbol", name), zap.Int("slot", i))
	}
	return i, nil
}

func (m *Module) entry(i int) SymbolEntry {
	s := m.slots[i]
	return SymbolEntry{Name: s.name, ResolvedAt: s.resolvedAt, module: m, index: i, addr: s.addr}
}

// Symbols returns the names resolved so far, in resolution order.
func (m *Module) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.slots))
	for i, s := range m.slots {
		names[i] = s.name
	}
	return names
}

// Enumerate returns the exported names of the module in export table order.
// The table is read from the module file on first use and kept until the
// module is unloaded; the returned sequence can be ranged any number of times.
func (m *Module) Enumerate() (iter.Seq[string], error) {
	names, err := m.exportTable()
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}, nil
}

func (m *Module) exportTable() ([]string, error) {
	m.mu.RLock()
	closed, names := m.closed, m.exports
	m.mu.RUnlock()
	if closed {
		return nil, &Error{Kind: ErrReleased, Op: "enumerate", Path: m.path}
	}
	if names != nil {
		return names, nil
	}
	names, err := Inspect(m.path)
	if err != nil {
		return nil, err.(*Error).with("enumerate", "", 0)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &Error{Kind: ErrReleased, Op: "enumerate", Path: m.path}
	}
	if m.exports == nil {
		m.exports = names
	}
	return m.exports, nil
}
