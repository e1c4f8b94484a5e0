package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
)

// RunBackendBenchmarks runs all benchmarks for a db.Backend implementation
func RunBackendBenchmarks(b *testing.B, name string, factory BackendFactory) {
	open := func(b *testing.B) db.Backend {
		backend, err := factory(b.TempDir())
		if err != nil {
			b.Fatalf("Failed to open backend: %v", err)
		}
		b.Cleanup(func() {
			backend.Close()
		})
		return backend
	}

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, open(b))
	})

	b.Run("BatchPut", func(b *testing.B) {
		benchmarkBatchPut(b, open(b))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, open(b))
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, open(b))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, open(b))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchKey(i int) []byte {
	return entryRoot.Join(fmt.Sprintf("%08d", i)).Join("order").Bytes()
}

func prefill(b *testing.B, backend db.Backend, n int) {
	const chunk = 1000
	for start := 0; start < n; start += chunk {
		err := db.Update(bgCtx, backend, func(tx db.Tx) error {
			for i := start; i < min(start+chunk, n); i++ {
				if err := tx.Put(testTable, benchKey(i), []byte(fmt.Sprintf("value-%d", i))); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatalf("Prefill failed: %v", err)
		}
	}
}

// Benchmark for one committed transaction per Put
func benchmarkPut(b *testing.B, backend db.Backend) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(bgCtx, backend, func(tx db.Tx) error {
			return tx.Put(testTable, benchKey(i), []byte("value"))
		})
		if err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
}

// Benchmark for 100 Puts per transaction
func benchmarkBatchPut(b *testing.B, backend db.Backend) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.Update(bgCtx, backend, func(tx db.Tx) error {
			for j := 0; j < 100; j++ {
				if err := tx.Put(testTable, benchKey(i*100+j), []byte("value")); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatalf("BatchPut failed: %v", err)
		}
	}
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, backend db.Backend) {
	const numKeys = 10000
	prefill(b, backend, numKeys)

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(counter.Add(1)) % numKeys
			err := db.View(bgCtx, backend, func(tx db.Tx) error {
				_, _, err := tx.Get(testTable, benchKey(i))
				return err
			})
			if err != nil {
				b.Errorf("Get failed: %v", err)
				return
			}
		}
	})
}

// Benchmark for scanning 100 entries below a prefix
func benchmarkScan(b *testing.B, backend db.Backend) {
	prefill(b, backend, 10000)
	prefix := entryRoot.Join("0000").Bytes() // keys 00000000..00009999 share this prefix byte-wise

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := db.View(bgCtx, backend, func(tx db.Tx) error {
			n := 0
			for _, err := range tx.ScanPrefix(testTable, prefix) {
				if err != nil {
					return err
				}
				if n++; n == 100 {
					break
				}
			}
			return nil
		})
		if err != nil {
			b.Fatalf("Scan failed: %v", err)
		}
	}
}

// Benchmark for mixed usage patterns (80% reads, 20% writes)
func benchmarkMixedUsage(b *testing.B, backend db.Backend) {
	const numKeys = 10000
	prefill(b, backend, numKeys)

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(counter.Add(1))
			key := benchKey(i % numKeys)

			var err error
			if i%5 == 0 {
				err = db.UpdateRetry(bgCtx, backend, 0, func(tx db.Tx) error {
					return tx.Put(testTable, key, []byte(fmt.Sprintf("mixed-%d", i)))
				})
			} else {
				err = db.View(bgCtx, backend, func(tx db.Tx) error {
					_, _, err := tx.Get(testTable, key)
					return err
				})
			}
			if err != nil {
				b.Errorf("Operation failed: %v", err)
				return
			}
		}
	})
}
