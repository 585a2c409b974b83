package native

import (
	"github.com/ZenLiuCN/fn"
	"testing"
)

func BenchmarkLoadRelease(b *testing.B) {
	requireFixtures(b)
	r := NewRegistry()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m := fn.Panic1(r.Load(fixtures.basic))
		fn.Panic(r.Release(m))
	}
}

func BenchmarkResolveCached(b *testing.B) {
	requireFixtures(b)
	r := NewRegistry()
	m := fn.Panic1(r.Load(fixtures.basic))
	defer func() { fn.Panic(r.Release(m)) }()
	fn.Panic1(m.Resolve(symGreet))
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		fn.Panic1(m.Resolve(symGreet))
	}
}

func BenchmarkInvokeScalar(b *testing.B) {
	requireFixtures(b)
	r := NewRegistry()
	m := fn.Panic1(r.Load(fixtures.shapes))
	defer func() { fn.Panic(r.Release(m)) }()
	args := Args{Scalar: 0.016}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		fn.Panic1(m.Invoke(symTick, ScalarText, args))
	}
}

func BenchmarkInvokeArgs(b *testing.B) {
	requireFixtures(b)
	r := NewRegistry()
	m := fn.Panic1(r.Load(fixtures.basic))
	defer func() { fn.Panic(r.Release(m)) }()
	args := Args{Texts: []string{"foo", "bar"}}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		fn.Panic1(m.Invoke(symEcho, ArgsText, args))
	}
}
