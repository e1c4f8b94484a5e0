package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	dbtesting "github.com/ValentinKolb/sKV/lib/db/testing"
)

func factory(dir string) (db.Backend, error) {
	return NewSQLiteDB(&Options{Path: filepath.Join(dir, "data.sqlite")})
}

func Test(t *testing.T) {
	dbtesting.RunBackendTests(t, "SQLiteDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunBackendBenchmarks(b, "SQLiteDB", func(dir string) (db.Backend, error) {
		return NewSQLiteDB(&Options{Path: filepath.Join(dir, "data.sqlite"), NoSync: true})
	})
}
