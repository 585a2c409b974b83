//go:build !(darwin || linux)

package native

const (
	RTLDLazy   = 0x1
	RTLDNow    = 0x2
	RTLDGlobal = 0x100
	RTLDLocal  = 0x0

	defaultFlags = RTLDNow | RTLDLocal
)

func openLibrary(string, int) (uintptr, error) { return 0, ErrUnsupported }

func lookupSymbol(uintptr, string) (uintptr, error) { return 0, ErrUnsupported }

func closeLibrary(uintptr) error { return ErrUnsupported }

func registerFunc(any, uintptr) { panic(ErrUnsupported) }
