package native

import (
	"errors"
	"strings"
)

var (
	// ErrModuleNotFound occurs when a module path does not resolve to an existing file.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleLoad occurs when the file exists but the OS loader refused it.
	ErrModuleLoad = errors.New("module load failed")
	// ErrSymbolNotFound occurs when a name is absent from the module's export table.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrReleased occurs when a Module or SymbolEntry is used after its module was unloaded.
	ErrReleased = errors.New("module released")
	// ErrUnknownShape occurs when an invocation names a Shape outside the fixed set.
	ErrUnknownShape = errors.New("unknown call shape")
	// ErrUnsupported occurs on platforms without a dynamic loader binding.
	ErrUnsupported = errors.New("unsupported platform")
	// ErrSinkNotInstalled occurs when the output sink is synced or removed while not installed.
	ErrSinkNotInstalled = errors.New("output sink not installed")
)

// Error is the failure returned by every recoverable operation.
//
// Kind is one of the package sentinels, so callers match with errors.Is;
// Err holds the underlying diagnostic (usually from the OS loader) and is
// reachable through errors.Unwrap.
type Error struct {
	Kind   error
	Op     string
	Path   string
	Symbol string
	Shape  Shape
	Err    error
}

func (e *Error) Error() string {
	b := new(strings.Builder)
	b.WriteString("native: ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteByte(' ')
		b.WriteString(e.Path)
	}
	if e.Symbol != "" {
		b.WriteString(" symbol ")
		b.WriteString(e.Symbol)
	}
	if e.Shape != 0 {
		b.WriteString(" shape ")
		b.WriteString(e.Shape.String())
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// with copies e, filling symbol and shape details that were unknown where it was raised.
func (e *Error) with(op, symbol string, shape Shape) *Error {
	x := *e
	if op != "" {
		x.Op = op
	}
	if x.Symbol == "" {
		x.Symbol = symbol
	}
	if x.Shape == 0 {
		x.Shape = shape
	}
	return &x
}

func fail(kind error, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}
