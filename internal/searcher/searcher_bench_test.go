package searcher

import (
	"context"
	"fmt"
	"testing"
)

// setupLookupBenchmark seeds 50 packages of one library each exporting 200
// symbols, with every package also referencing malloc
func setupLookupBenchmark(b *testing.B) *Searcher {
	b.Helper()
	store := setupStore(b)
	for p := 0; p < 50; p++ {
		syms := make([]string, 0, 201)
		for i := 0; i < 200; i++ {
			syms = append(syms, fmt.Sprintf("lib%02d_fn_%03d", p, i))
		}
		syms = append(syms, "malloc")
		seedPackage(b, store, testRepo, fmt.Sprintf("lib%02d", p), "x86_64",
			seedFile{fmt.Sprintf("/usr/lib64/lib%02d.so.1", p), syms})
	}
	return NewSearcher(store)
}

// BenchmarkLookupExact benchmarks a lookup of one widely referenced name
func BenchmarkLookupExact(b *testing.B) {
	s := setupLookupBenchmark(b)
	req := LookupRequest{Names: []string{"malloc"}}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.Lookup(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLookupWildcard benchmarks expansion of a prefix wildcard
func BenchmarkLookupWildcard(b *testing.B) {
	s := setupLookupBenchmark(b)
	req := LookupRequest{Names: []string{"lib07_fn_*"}}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.Lookup(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLookupCached benchmarks a lookup answered from the response cache
func BenchmarkLookupCached(b *testing.B) {
	s := setupLookupBenchmark(b)
	req := LookupRequest{Names: []string{"malloc"}, UseCache: true}
	if _, err := s.Lookup(context.Background(), req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.Lookup(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
