package db_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := db.WrapError(db.ErrCConflict, io.ErrUnexpectedEOF, "commit %d", 7)

	if !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected %v to match ErrConflict", err)
	}
	if errors.Is(err, db.ErrCorruption) {
		t.Errorf("Expected %v not to match ErrCorruption", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected the cause to be reachable through Unwrap")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, db.ErrConflict) {
		t.Errorf("Expected match through fmt wrapping")
	}
	if got := db.CodeOf(wrapped); got != db.ErrCConflict {
		t.Errorf("Expected code Conflict, got %s", got)
	}
}

func TestErrorMessage(t *testing.T) {
	plain := db.NewError(db.ErrCIo, "disk full")
	if got, want := plain.Error(), "StorageError (code Io): disk full"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	wrapped := db.WrapError(db.ErrCCorruption, errors.New("bad crc"), "table %s", "items")
	if got, want := wrapped.Error(), "StorageError (code Corruption): table items: bad crc"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{db.ErrConflict, true},
		{db.ErrUnavailable, true},
		{fmt.Errorf("x: %w", db.ErrConflict), true},
		{db.ErrIo, false},
		{db.ErrCorruption, false},
		{db.ErrScopeUnavailable, false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := db.IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCodeStrings(t *testing.T) {
	for code := db.ErrCUnavailable; code <= db.ErrCInvalidValue; code++ {
		if code.String() == "Unknown" {
			t.Errorf("Code %d has no name", code)
		}
	}
	if db.ErrCode(99).String() != "Unknown" {
		t.Errorf("Expected Unknown for unassigned codes")
	}
	if db.CodeOf(errors.New("plain")) != 0 {
		t.Errorf("Expected code 0 for foreign errors")
	}
}
