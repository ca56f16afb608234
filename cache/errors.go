package cache

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTransientFetch marks a fetch error as worth retrying.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrFatalFetch marks a fetch error that must not be retried.
	ErrFatalFetch = errors.New("fatal fetch error")
	// ErrFetcherPanic is the cause recorded when a fetcher or mutation function panics.
	ErrFetcherPanic = errors.New("fetch function panicked")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("query cache closed")
	// ErrNilFetcher is returned when a query is issued without a fetch function.
	ErrNilFetcher = errors.New("fetch function is nil")
	// ErrAborted is the cause recorded for a fetch that was cancelled before completing.
	ErrAborted = errors.New("fetch aborted")
	// ErrTypeMismatch is returned by the typed helpers when cached data has an unexpected type.
	ErrTypeMismatch = errors.New("cached data type mismatch")
)

// Transient marks err as retryable. The original error chain is preserved.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransientFetch)
}

// Fatal marks err so the retry policy gives up immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrFatalFetch)
}

// IsRetryable reports whether a failed attempt may be retried. Errors are
// retryable unless marked Fatal, caused by a panic or a cancelled context.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientFetch) {
		return true
	}
	switch {
	case errors.Is(err, ErrFatalFetch),
		errors.Is(err, ErrFetcherPanic),
		errors.Is(err, ErrAborted),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// FetchError is stored on an entry whose fetch failed after exhausting retries.
type FetchError struct {
	Key      Key
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt's error.
func (e *FetchError) Unwrap() error { return e.Err }

// MutationError is returned by Mutate when the mutation function fails.
// It is returned only after rollback has completed.
type MutationError struct {
	MutationID string
	RolledBack int
	Err        error
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s failed (%d entries rolled back): %v", e.MutationID, e.RolledBack, e.Err)
}

// Unwrap exposes the mutation function's error.
func (e *MutationError) Unwrap() error { return e.Err }

// PanicError converts a recovered panic value into an error marked with ErrFetcherPanic.
func PanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return errors.Mark(errors.Wrap(err, "panic"), ErrFetcherPanic)
	}
	return errors.Mark(errors.Newf("panic: %v", recovered), ErrFetcherPanic)
}
