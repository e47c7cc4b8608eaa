package selfplay

import "github.com/pkg/errors"

// ErrEmptyPool is returned when a selection is requested over an
// empty opponent pool.
var ErrEmptyPool = errors.New("selfplay: opponent pool is empty")

// ErrNoLatest is returned by PoolStore.ReadLatest before the learner
// has published any parameters.
var ErrNoLatest = errors.New("selfplay: no latest parameters published")

// ErrIndexOutOfRange is returned when a quality update references an
// index beyond the current pool size. This can happen when the index
// was sampled against a pool snapshot that has since changed; the
// update is dropped rather than written out of bounds.
var ErrIndexOutOfRange = errors.New("selfplay: quality index out of range")

// TransientError marks a store failure that should be retried with
// backoff rather than treated as fatal: the store was unreachable or
// timed out, and the operation may succeed later.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "selfplay: transient store error: " + e.Err.Error()
}

func (e *TransientError) Temporary() bool { return true }

// Cause supports unwrapping with errors.Cause.
func (e *TransientError) Cause() error { return e.Err }

// IsTransient reports whether err (or any error in its cause chain)
// is a retriable store failure.
func IsTransient(err error) bool {
	type temporary interface {
		Temporary() bool
	}
	type causer interface {
		Cause() error
	}

	for err != nil {
		if t, ok := err.(temporary); ok {
			return t.Temporary()
		}

		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}

	return false
}
