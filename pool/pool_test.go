package pool

import (
	"errors"
	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/native"
	"github.com/davecgh/go-spew/spew"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
)

func library(t *testing.T, name string) string {
	t.Helper()
	ext := ".so"
	switch runtime.GOOS {
	case "linux":
	case "darwin":
		ext = ".dylib"
	default:
		t.Skip("unsupported platform")
	}
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	if _, err := exec.LookPath(cc); err != nil {
		t.Skipf("no C compiler: %v", err)
	}
	out := filepath.Join(t.TempDir(), "lib"+name+ext)
	if b, err := exec.Command(cc, "-shared", "-fPIC", "-o", out, filepath.Join("..", "testdata", name+".c")).CombinedOutput(); err != nil {
		t.Skipf("build %s: %v\n%s", name, err, b)
	}
	return out
}

func TestNewPool(t *testing.T) {
	basic, shapes := library(t, "basic"), library(t, "shapes")
	p := NewPool(native.NewRegistry())
	fn.Panic1(p.Load(basic))
	fn.Panic1(p.Load(shapes))
	if _, err := p.Load(basic); !errors.Is(err, ErrAlreadyLoad) {
		t.Fatalf("second Load() = %v", err)
	}
	s0 := fn.Panic1(p.Require(basic, "greet"))
	if got := fn.Panic1(s0.Invoke(native.NoArgsText, native.Args{})); got != "Hello from greet()!" {
		t.Fatalf("greet() = %q", got)
	}
	got := fn.Panic1(p.Invoke(shapes, "handle_buffer", native.BufferText, native.Args{Buffer: []byte{0x13, 0x37, 0x42, 0x99}}))
	if got != "length=4 data=13374299" {
		t.Fatalf("handle_buffer() = %q", got)
	}
	sp := spew.NewDefaultConfig()
	sp.MaxDepth = 3
	for name, m := range p.Modules {
		t.Log(sp.Sdump(name, m.Info()))
	}
	if keys := slices.Sorted(slices.Values(fn.MapKeys(p.Modules))); !slices.Equal(keys, slices.Sorted(slices.Values(p.Paths()))) {
		t.Fatalf("Modules keys %v", keys)
	}
	paths := p.Paths()
	if len(paths) != 2 || paths[0] != fn.Panic1(native.Canonical(basic)) {
		t.Fatalf("Paths() = %v", paths)
	}
	fn.Panic(p.Close())
	if s0.Valid() {
		t.Fatal("symbol valid after Close()")
	}
	if _, err := p.Require(basic, "greet"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Require() after Close = %v", err)
	}
}

func TestPoolHidesRegistryRelease(t *testing.T) {
	p := NewPool(native.NewRegistry())
	if _, ok := any(p).(interface{ Release(*native.Module) error }); ok {
		t.Fatal("Pool exposes Release outside its bookkeeping")
	}
	if _, ok := any(p).(interface{ UnloadAll() error }); ok {
		t.Fatal("Pool exposes UnloadAll outside its bookkeeping")
	}
}

func TestReload(t *testing.T) {
	basic := library(t, "basic")
	p := NewPool(native.NewRegistry())
	defer func() { fn.Panic(p.Close()) }()
	m0 := fn.Panic1(p.Load(basic))
	s0 := fn.Panic1(p.Require(basic, "echo"))
	m1 := fn.Panic1(p.Reload(basic))
	if m0 == m1 || m0.Loaded() || s0.Valid() {
		t.Fatal("Reload() kept the previous module alive")
	}
	got := fn.Panic1(p.Invoke(basic, "echo", native.ArgsText, native.Args{Texts: []string{"foo", "bar"}}))
	if got != "foobar" {
		t.Fatalf("echo() = %q", got)
	}
	if !slices.Equal(p.Paths(), []string{m1.Path()}) {
		t.Fatalf("Paths() = %v", p.Paths())
	}
	if _, err := p.Reload(filepath.Join(t.TempDir(), "none.so")); !errors.Is(err, ErrNotLoad) {
		t.Fatalf("Reload(unknown) = %v", err)
	}
}

func TestUnload(t *testing.T) {
	basic := library(t, "basic")
	r := native.NewRegistry()
	p := NewPool(r)
	m := fn.Panic1(p.Load(basic))
	fn.Panic(p.Unload(basic))
	if m.Loaded() || r.Resident(basic) {
		t.Fatal("Unload() left the module resident")
	}
	if err := p.Unload(basic); !errors.Is(err, ErrNotLoad) {
		t.Fatalf("second Unload() = %v", err)
	}
	if _, err := p.Load(filepath.Join(t.TempDir(), "none.so")); !errors.Is(err, native.ErrModuleNotFound) {
		t.Fatalf("Load(missing) = %v", err)
	}
	fn.Panic(p.Close())
}
