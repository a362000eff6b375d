package rowindex

import (
	"fmt"
	"testing"

	"github.com/eunmann/idxgo/pkg/benchutil"
	"github.com/eunmann/idxgo/pkg/idx"
)

func generated(b *testing.B, rows int, seed int64) *idx.Dataset {
	b.Helper()
	cfg := benchutil.DefaultConfig(rows)
	cfg.Seed = seed
	ds, err := idx.FromBytes(benchutil.NewGenerator(cfg).Generate())
	if err != nil {
		b.Fatalf("FromBytes: %v", err)
	}
	return ds
}

func BenchmarkBuild(b *testing.B) {
	for _, rows := range benchutil.Sizes() {
		ds := generated(b, rows, benchutil.BenchmarkSeed)
		b.Run(fmt.Sprintf("rows=%d", rows), func(b *testing.B) {
			b.SetBytes(int64(ds.Len()))
			b.ReportAllocs()
			for range b.N {
				if _, err := Build(ds); err != nil {
					b.Fatalf("Build: %v", err)
				}
			}
		})
	}
}

func BenchmarkLookup(b *testing.B) {
	ds := generated(b, 10000, benchutil.BenchmarkSeed)
	ix, err := Build(ds)
	if err != nil {
		b.Fatalf("Build: %v", err)
	}

	rows := make([][]byte, 1000)
	for i := range rows {
		v, _ := ds.Index(i * 10)
		rows[i] = v.Bytes()
	}

	b.ReportAllocs()
	for i := range b.N {
		if _, ok := ix.Lookup(rows[i%len(rows)]); !ok {
			b.Fatal("indexed row not found")
		}
	}
}

func BenchmarkOverlap(b *testing.B) {
	benchutil.SkipIfNoLongBench(b)

	train := generated(b, 60000, 1)
	test := generated(b, 10000, 2)

	b.ReportAllocs()
	for range b.N {
		if _, err := Overlap(train, test); err != nil {
			b.Fatalf("Overlap: %v", err)
		}
	}
}
