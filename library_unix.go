//go:build darwin || linux

package native

import (
	"github.com/ebitengine/purego"
)

const (
	// RTLDLazy resolves undefined references on first use.
	RTLDLazy = purego.RTLD_LAZY
	// RTLDNow resolves all undefined references at load time.
	RTLDNow = purego.RTLD_NOW
	// RTLDGlobal makes the module's symbols available to modules loaded later.
	RTLDGlobal = purego.RTLD_GLOBAL
	// RTLDLocal keeps the module's symbols private, the default.
	RTLDLocal = purego.RTLD_LOCAL

	defaultFlags = RTLDNow | RTLDLocal
)

func openLibrary(path string, flags int) (uintptr, error) {
	return purego.Dlopen(path, flags)
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func closeLibrary(handle uintptr) error {
	return purego.Dlclose(handle)
}

// registerFunc binds fptr, a pointer to a func variable, to the native code at addr.
func registerFunc(fptr any, addr uintptr) {
	purego.RegisterFunc(fptr, addr)
}
