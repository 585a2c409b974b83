package native

import (
	"debug/elf"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ZenLiuCN/fn"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"
)

// reserved entries emitted by the toolchain rather than the module author.
var reserved = map[string]bool{
	"_init": true,
	"_fini": true,
}

// Inspect lists the names exported by the native module file at path, in
// export table order. Undefined (imported) symbols and toolchain reserved
// entries are left out. ELF and Mach-O (thin or universal) are understood.
func Inspect(path string) (names []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(ErrModuleNotFound, "inspect", path, err)
		}
		return nil, fail(ErrModuleLoad, "inspect", path, err)
	}
	defer fn.IgnoreClose(f)()
	var magic [4]byte
	if _, err = io.ReadFull(f, magic[:]); err != nil {
		return nil, fail(ErrModuleLoad, "inspect", path, fmt.Errorf("read header: %w", err))
	}
	switch {
	case string(magic[:]) == elf.ELFMAG:
		names, err = elfExports(f)
	case isMachO(magic):
		names, err = machoExports(f, magic)
	default:
		err = fmt.Errorf("unrecognized module format %x", magic)
	}
	if err != nil {
		return nil, fail(ErrModuleLoad, "inspect", path, err)
	}
	return names, nil
}

func elfExports(r io.ReaderAt) ([]string, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	syms, err := f.DynamicSymbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(syms))
	seen := make(map[string]bool, len(syms))
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF || reserved[s.Name] || seen[s.Name] {
			continue
		}
		switch elf.ST_BIND(s.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
		default:
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_TLS, elf.STT_LOOS: // STT_LOOS is STT_GNU_IFUNC
		default:
			continue
		}
		seen[s.Name] = true
		names = append(names, s.Name)
	}
	return names, nil
}

const (
	machoStab = 0xe0
	machoType = 0x0e
	machoSect = 0x0e
	machoExt  = 0x01
)

func isMachO(magic [4]byte) bool {
	switch binary.BigEndian.Uint32(magic[:]) {
	case macho.MagicFat:
		return true
	}
	switch binary.LittleEndian.Uint32(magic[:]) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	switch binary.BigEndian.Uint32(magic[:]) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	return false
}

func machoExports(r io.ReaderAt, magic [4]byte) ([]string, error) {
	var f *macho.File
	if binary.BigEndian.Uint32(magic[:]) == macho.MagicFat {
		fat, err := macho.NewFatFile(r)
		if err != nil {
			return nil, err
		}
		if len(fat.Arches) == 0 {
			return nil, errors.New("universal binary without architectures")
		}
		f = fat.Arches[0].File
		for _, a := range fat.Arches {
			if a.Cpu == machoCPU() {
				f = a.File
				break
			}
		}
	} else {
		var err error
		if f, err = macho.NewFile(r); err != nil {
			return nil, err
		}
	}
	if f.Symtab == nil {
		return []string{}, nil
	}
	names := make([]string, 0, len(f.Symtab.Syms))
	for _, s := range f.Symtab.Syms {
		if s.Type&machoStab != 0 || s.Type&machoExt == 0 || s.Type&machoType != machoSect {
			continue
		}
		n := strings.TrimPrefix(s.Name, "_")
		if n == "" || reserved[n] {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

func machoCPU() macho.Cpu {
	switch runtime.GOARCH {
	case "arm64":
		return macho.CpuArm64
	case "386":
		return macho.Cpu386
	default:
		return macho.CpuAmd64
	}
}
