package bolt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
)

func TestOpenLockedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.bolt")

	first, err := NewBoltDB(&Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	_, err = NewBoltDB(&Options{Path: path, Timeout: 50 * time.Millisecond})
	if !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("Expected Unavailable for a locked file, got %v", err)
	}
}

func TestOpenGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bolt")
	garbage := make([]byte, 64*1024)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewBoltDB(&Options{Path: path})
	if err == nil {
		t.Fatal("Expected an error for a garbage file")
	}
	if !errors.Is(err, db.ErrCorruption) && !errors.Is(err, db.ErrIo) {
		t.Errorf("Expected Corruption or Io, got %v", err)
	}
}

func TestPathRequired(t *testing.T) {
	if _, err := NewBoltDB(nil); err == nil {
		t.Error("Expected error without a path")
	}
}
