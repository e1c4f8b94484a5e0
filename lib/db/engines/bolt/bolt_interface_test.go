package bolt

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
)

func factory(dir string) (db.Backend, error) {
	return NewBoltDB(&Options{Path: filepath.Join(dir, "data.bolt")})
}

func Test(t *testing.T) {
	dbtesting.RunBackendTests(t, "BoltDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunBackendBenchmarks(b, "BoltDB", func(dir string) (db.Backend, error) {
		return NewBoltDB(&Options{Path: filepath.Join(dir, "data.bolt"), NoSync: true})
	})
}
