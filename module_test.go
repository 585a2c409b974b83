package native

import (
	"errors"
	"github.com/ZenLiuCN/fn"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoadDeduplicates(t *testing.T) {
	requireFixtures(t)
	r := NewRegistry(WithDebug(true))
	m1 := fn.Panic1(r.Load(fixtures.basic))
	link := filepath.Join(t.TempDir(), "link"+filepath.Ext(fixtures.basic))
	fn.Panic(os.Symlink(fixtures.basic, link))
	m2 := fn.Panic1(r.Load(link))
	if m1 != m2 {
		t.Fatalf("Load() returned two modules for one file: %p %p", m1, m2)
	}
	if m1.handle != m2.handle {
		t.Fatalf("handles differ: %x %x", m1.handle, m2.handle)
	}
	if got := m1.Refs(); got != 2 {
		t.Fatalf("Refs() = %d, want 2", got)
	}
	if got := len(r.Modules()); got != 1 {
		t.Fatalf("Modules() = %d, want 1", got)
	}
	fn.Panic(r.Release(m1))
	fn.Panic(r.Release(m2))
}

func TestReleaseUnloads(t *testing.T) {
	requireFixtures(t)
	r := NewRegistry()
	m := fn.Panic1(r.Load(fixtures.basic))
	fn.Panic1(r.Load(fixtures.basic))
	e := fn.Panic1(m.Resolve(symGreet))

	fn.Panic(r.Release(m))
	if !m.Loaded() || !e.Valid() {
		t.Fatal("module unloaded while a reference is outstanding")
	}
	fn.Panic(m.Release())
	if m.Loaded() {
		t.Fatal("module still loaded after the last release")
	}
	if e.Valid() {
		t.Fatal("symbol entry still valid after unload")
	}
	if r.Resident(fixtures.basic) {
		t.Fatal("registry still lists the module")
	}
	if _, err := m.Resolve(symGreet); !errors.Is(err, ErrReleased) {
		t.Fatalf("Resolve() after unload = %v, want ErrReleased", err)
	}
	if _, err := e.Invoke(NoArgsText, Args{}); !errors.Is(err, ErrReleased) {
		t.Fatalf("Invoke() after unload = %v, want ErrReleased", err)
	}
	if err := r.Release(m); !errors.Is(err, ErrReleased) {
		t.Fatalf("extra Release() = %v, want ErrReleased", err)
	}
}

func TestReloadIsFresh(t *testing.T) {
	requireFixtures(t)
	r := NewRegistry()
	m1 := fn.Panic1(r.Load(fixtures.basic))
	fn.Panic(r.Release(m1))
	m2 := fn.Panic1(r.Load(fixtures.basic))
	defer func() { fn.Panic(r.Release(m2)) }()
	if m1 == m2 || m1.Loaded() || !m2.Loaded() {
		t.Fatal("a released module was reused")
	}
}

func TestLoadErrors(t *testing.T) {
	requireFixtures(t)
	r := NewRegistry()
	missing := filepath.Join(fixtures.dir, "missing.so")
	tests := []struct {
		name string
		path string
		kind error
	}{
		{"missing", missing, ErrModuleNotFound},
		{"invalid", fixtures.invalid, ErrModuleLoad},
		{"directory", fixtures.dir, ErrModuleLoad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.Load(tt.path)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Load(%s) = %v, want %v", tt.path, err, tt.kind)
			}
			if m != nil {
				t.Fatal("Load() returned a module with an error")
			}
			var e *Error
			if !errors.As(err, &e) || e.Err == nil {
				t.Fatalf("error %v carries no diagnostic", err)
			}
			if !strings.Contains(err.Error(), filepath.Base(tt.path)) {
				t.Fatalf("error %q does not name the path", err)
			}
		})
	}
	if got := len(r.Modules()); got != 0 {
		t.Fatalf("failed loads left %d modules", got)
	}
}

func TestConcurrentLoad(t *testing.T) {
	requireFixtures(t)
	r := NewRegistry()
	const n = 16
	mods := make([]*Module, n)
	var w sync.WaitGroup
	for i := 0; i < n; i++ {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			mods[i] = fn.Panic1(r.Load(fixtures.shapes))
		}(i)
	}
	w.Wait()
	for _, m := range mods[1:] {
		if m != mods[0] {
			t.Fatal("concurrent loads produced distinct modules")
		}
	}
	if got := mods[0].Refs(); got != n {
		t.Fatalf("Refs() = %d, want %d", got, n)
	}
	for _, m := range mods {
		w.Add(1)
		go func(m *Module) {
			defer w.Done()
			fn.Panic(r.Release(m))
		}(m)
	}
	w.Wait()
	if mods[0].Loaded() {
		t.Fatal("module loaded after all releases")
	}
}

func TestPinAndUnloadAll(t *testing.T) {
	requireFixtures(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return at }))
	p1 := fn.Panic1(r.Pin(fixtures.basic))
	p2 := fn.Panic1(r.Pin(fixtures.basic))
	if p1 != p2 || p1.Refs() != 1 {
		t.Fatalf("Pin() stacked references: %d", p1.Refs())
	}
	if !p1.LoadedAt().Equal(at) {
		t.Fatalf("LoadedAt() = %v, want %v", p1.LoadedAt(), at)
	}
	m := fn.Panic1(r.Load(fixtures.shapes))
	if info := m.Info(); info.Refs != 1 || info.Pinned {
		t.Fatalf("Info() = %+v", info)
	}
	fn.Panic(r.UnloadAll())
	if p1.Loaded() || m.Loaded() {
		t.Fatal("UnloadAll() left modules loaded")
	}
	if got := len(r.Modules()); got != 0 {
		t.Fatalf("Modules() = %d after UnloadAll", got)
	}
	if err := r.Release(m); !errors.Is(err, ErrReleased) {
		t.Fatalf("Release() after UnloadAll = %v", err)
	}
}

func TestReleaseForeign(t *testing.T) {
	requireFixtures(t)
	a, b := NewRegistry(), NewRegistry()
	m := fn.Panic1(a.Load(fixtures.basic))
	defer func() { fn.Panic(a.Release(m)) }()
	if err := b.Release(m); !errors.Is(err, ErrReleased) {
		t.Fatalf("Release() by another registry = %v", err)
	}
	if err := b.Release(nil); !errors.Is(err, ErrReleased) {
		t.Fatalf("Release(nil) = %v", err)
	}
}
