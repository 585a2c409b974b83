package native

import (
	"errors"
	"fmt"
	"go.uber.org/zap"
	"runtime"
	"slices"
	"strings"
	"unsafe"
)

// Shape selects the native calling convention used to invoke a symbol.
//
// Nothing verifies that a symbol really has the selected shape: choosing the
// wrong one is undefined behaviour on the native side, not an error.
type Shape uint8

const (
	NoArgsText Shape = iota + 1 // const char* f(void)
	ArgsText                    // const char* f(int argc, const char** argv)
	BufferText                  // const char* f(const uint8_t* ptr, size_t len)
	ScalarText                  // const char* f(double value)
	SideEffect                  // void f(void)
	shapeCount
)

var shapeNames = [shapeCount]string{
	NoArgsText: "text",
	ArgsText:   "args",
	BufferText: "buffer",
	ScalarText: "scalar",
	SideEffect: "void",
}

func (s Shape) String() string {
	if s.Valid() {
		return shapeNames[s]
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// Valid reports whether s is one of the supported shapes.
func (s Shape) Valid() bool { return s > 0 && s < shapeCount }

// ParseShape parses the short name of a shape (text, args, buffer, scalar, void)
// or its long form (NoArgsTextResult, ArgsTextResult, BufferTextResult,
// ScalarTextResult, SideEffectOnly), case-insensitively.
func ParseShape(name string) (Shape, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s := NoArgsText; s < shapeCount; s++ {
		if n == shapeNames[s] {
			return s, nil
		}
	}
	switch n {
	case "noargstextresult":
		return NoArgsText, nil
	case "argstextresult":
		return ArgsText, nil
	case "buffertextresult":
		return BufferText, nil
	case "scalartextresult":
		return ScalarText, nil
	case "sideeffectonly":
		return SideEffect, nil
	}
	return 0, &Error{Kind: ErrUnknownShape, Op: "parse", Err: fmt.Errorf("%q", name)}
}

// Args carries the host side input of an invocation; each Shape reads only its own field.
type Args struct {
	Texts  []string // ArgsText, passed argv style
	Buffer []byte   // BufferText, passed as pointer and length without copying
	Scalar float64  // ScalarText
}

type (
	textFunc   func() *byte
	argsFunc   func(argc int32, argv **byte) *byte
	bufferFunc func(data *byte, n uintptr) *byte
	scalarFunc func(v float64) *byte
	voidFunc   func()

	// adapter binds an address to a typed function and marshals one call through it.
	adapter struct {
		bind func(addr uintptr) any
		call func(f any, a Args) string
	}
)

var adapters = [shapeCount]adapter{
	NoArgsText: {
		bind: func(addr uintptr) any {
			var f textFunc
			registerFunc(&f, addr)
			return f
		},
		call: func(f any, _ Args) string {
			return copyText(f.(textFunc)())
		},
	},
	ArgsText: {
		bind: func(addr uintptr) any {
			var f argsFunc
			registerFunc(&f, addr)
			return f
		},
		call: callArgs,
	},
	BufferText: {
		bind: func(addr uintptr) any {
			var f bufferFunc
			registerFunc(&f, addr)
			return f
		},
		call: callBuffer,
	},
	ScalarText: {
		bind: func(addr uintptr) any {
			var f scalarFunc
			registerFunc(&f, addr)
			return f
		},
		call: func(f any, a Args) string {
			return copyText(f.(scalarFunc)(a.Scalar))
		},
	},
	SideEffect: {
		bind: func(addr uintptr) any {
			var f voidFunc
			registerFunc(&f, addr)
			return f
		},
		call: func(f any, _ Args) string {
			f.(voidFunc)()
			return ""
		},
	},
}

// callArgs builds a NULL terminated argv of NUL terminated copies, pinned for the call only.
func callArgs(f any, a Args) string {
	var pin runtime.Pinner
	defer pin.Unpin()
	argv := make([]*byte, len(a.Texts)+1)
	for i, s := range a.Texts {
		b := make([]byte, len(s)+1)
		copy(b, s)
		pin.Pin(&b[0])
		argv[i] = &b[0]
	}
	pin.Pin(&argv[0])
	return copyText(f.(argsFunc)(int32(len(a.Texts)), &argv[0]))
}

func callBuffer(f any, a Args) string {
	var p *byte
	if len(a.Buffer) > 0 {
		var pin runtime.Pinner
		defer pin.Unpin()
		p = &a.Buffer[0]
		pin.Pin(p)
	}
	return copyText(f.(bufferFunc)(p, uintptr(len(a.Buffer))))
}

// copyText copies a NUL terminated native string into Go memory; nil maps to "".
func copyText(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// Invoke calls symbol of m with the given shape on the calling goroutine and
// returns its text result. The module holds an extra reference during the
// call, so a concurrent Release can not unload it underneath. When the output
// sink is installed, everything the call wrote to stdout has reached the
// callback by the time Invoke returns, unless Invoke is called from that
// callback: its output is then delivered once the callback returns.
func (m *Module) Invoke(symbol string, shape Shape, args Args) (string, error) {
	if !shape.Valid() {
		return "", &Error{Kind: ErrUnknownShape, Op: "invoke", Path: m.path, Symbol: symbol, Shape: shape}
	}
	if err := m.reg.retain(m); err != nil {
		return "", err.(*Error).with("invoke", symbol, shape)
	}
	defer func() { _ = m.reg.Release(m) }()
	f, err := m.bind(symbol, shape)
	if err != nil {
		return "", err.(*Error).with("invoke", symbol, shape)
	}
	if m.reg.debug {
		m.reg.log.Debug("invoke", zap.String("path", m.path), zap.String("symbol", symbol), zap.Stringer("shape", shape))
	}
	out := adapters[shape].call(f, args)
	if err = output.settle(); err != nil && m.reg.debug {
		m.reg.log.Debug("sync output", zap.String("path", m.path), zap.Error(err))
	}
	return out, nil
}

// Invoke calls symbol of m, which must be a module of r.
func (r *Registry) Invoke(m *Module, symbol string, shape Shape, args Args) (string, error) {
	if m == nil || m.reg != r {
		return "", &Error{Kind: ErrReleased, Op: "invoke", Symbol: symbol, Shape: shape, Err: errors.New("module belongs to another registry")}
	}
	return m.Invoke(symbol, shape, args)
}

// Invoke calls the symbol e names, see [Module.Invoke].
func (e SymbolEntry) Invoke(shape Shape, args Args) (string, error) {
	if e.module == nil {
		return "", &Error{Kind: ErrReleased, Op: "invoke", Symbol: e.Name, Shape: shape}
	}
	return e.module.Invoke(e.Name, shape, args)
}

// bind returns the adapter function of symbol for shape, creating it once per slot.
func (m *Module) bind(symbol string, shape Shape) (any, error) {
	m.mu.RLock()
	if !m.closed {
		if i, ok := m.index[symbol]; ok {
			if f := m.slots[i].bound[shape]; f != nil {
				m.mu.RUnlock()
				return f, nil
			}
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.resolve(symbol)
	if err != nil {
		return nil, err
	}
	s := &m.slots[i]
	if s.bound[shape] == nil {
		s.bound[shape] = adapters[shape].bind(s.addr)
	}
	return s.bound[shape], nil
}

// LoadAndInvoke invokes symbol of the module at path, keeping the module
// resident (pinned) for later calls until UnloadAll.
func (r *Registry) LoadAndInvoke(path, symbol string, shape Shape, args Args) (string, error) {
	if !shape.Valid() {
		return "", &Error{Kind: ErrUnknownShape, Op: "invoke", Path: path, Symbol: symbol, Shape: shape}
	}
	m, err := r.Pin(path)
	if err != nil {
		return "", err.(*Error).with("invoke", symbol, shape)
	}
	return m.Invoke(symbol, shape, args)
}

// ListSymbols lists the exported names of the module at path. A resident
// module answers from its cached export table, otherwise the file is read
// without being loaded.
func (r *Registry) ListSymbols(path string) ([]string, error) {
	p, err := canonical("list", path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	m := r.modules[p]
	r.mu.Unlock()
	if m != nil {
		if seq, err := m.Enumerate(); err == nil {
			return slices.Collect(seq), nil
		}
	}
	names, err := Inspect(p)
	if err != nil {
		return nil, err.(*Error).with("list", "", 0)
	}
	return names, nil
}
