package native

import (
	"sync"
)

var (
	global     *Registry
	globalOnce sync.Once
)

// Default is the process wide Registry behind the package level functions.
func Default() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// LoadAndInvoke loads the module at path if it is not resident yet and
// invokes symbol with the given shape. The module stays resident for the
// next calls until UnloadAll.
func LoadAndInvoke(path, symbol string, shape Shape, args Args) (string, error) {
	return Default().LoadAndInvoke(path, symbol, shape, args)
}

// ListSymbols lists the names exported by the module at path, in export table order.
func ListSymbols(path string) ([]string, error) {
	return Default().ListSymbols(path)
}

// RunText invokes a void symbol and returns what it printed. When an output
// callback is installed the text goes to the callback and RunText returns "".
func RunText(path, symbol string) (out string, err error) {
	var invokeErr error
	out, err = Capture(func() {
		_, invokeErr = LoadAndInvoke(path, symbol, SideEffect, Args{})
	})
	if invokeErr != nil {
		return "", invokeErr
	}
	return
}

// SetOutputCallback forwards native standard output to cb, see [Install].
func SetOutputCallback(cb func(string)) error {
	return Install(cb)
}

// ClearOutputCallback restores the original standard output. It is a no-op
// when no callback is installed.
func ClearOutputCallback() error {
	return Install(nil)
}

// UnloadAll unloads every module of the default registry. This should only
// be used when no native call is in flight and no SymbolEntry is retained.
func UnloadAll() error {
	return Default().UnloadAll()
}
