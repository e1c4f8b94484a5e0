package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var (
	// DefaultRetries is the number of attempts RetryOnConflict makes when a
	// non-positive attempt count is passed.
	DefaultRetries = 5
	// RetryBackoff is the base delay between two attempts; attempt i waits i*RetryBackoff.
	RetryBackoff = 2 * time.Millisecond

	log = logger.GetLogger("db")
)

// --------------------------------------------------------------------------
// Transaction helpers
// --------------------------------------------------------------------------

// View runs fn inside a read transaction. The transaction is always released.
func View(ctx context.Context, b Backend, fn func(tx Tx) error) error {
	tx, err := b.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Update runs fn inside a write transaction and commits if fn returns nil.
// If fn returns an error or panics, the transaction is rolled back and none
// of its writes become visible.
func Update(ctx context.Context, b Backend, fn func(tx Tx) error) (err error) {
	tx, err := b.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxClosed) {
			log.Warningf("rollback after failed update: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// RetryOnConflict runs fn up to attempts times as long as it fails with a
// retryable error (Conflict or Unavailable). fn must be the complete unit of
// work, including beginning and committing its transaction.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}

		log.Infof("transaction failed with %s, retrying (%d/%d)...", CodeOf(err), i+1, attempts)
		select {
		case <-ctx.Done():
			return WrapError(ErrCUnavailable, ctx.Err(), "gave up after %d attempts", i+1)
		case <-time.After(time.Duration(i+1) * RetryBackoff):
		}
	}
	return fmt.Errorf("retries exhausted (%d): %w", attempts, err)
}

// UpdateRetry combines Update and RetryOnConflict.
func UpdateRetry(ctx context.Context, b Backend, attempts int, fn func(tx Tx) error) error {
	return RetryOnConflict(ctx, attempts, func(ctx context.Context) error {
		return Update(ctx, b, fn)
	})
}
