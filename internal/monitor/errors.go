package monitor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration marks a policy or setting the monitor cannot run with. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrStorage marks a cache read/write failure. The monitor keeps running in memory.
	ErrStorage = errors.New("cache storage error")
)

// FetchError is a recoverable failure while reading a channel's history.
// It curtails the current round; the next round retries from the persisted cursor.
type FetchError struct {
	Channel string
	// RetryAfter is the remote-indicated backoff (0 if none was given).
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("fetch %s: %v (retry after %s)", e.Channel, e.Err, e.RetryAfter)
	}
	return fmt.Sprintf("fetch %s: %v", e.Channel, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// newFetchError wraps err, lifting a retry-after hint from any error in the
// chain that exposes one.
func newFetchError(channel string, err error) *FetchError {
	fe := &FetchError{Channel: channel, Err: err}
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		fe.RetryAfter = ra.RetryAfter()
	}
	return fe
}

// DeliveryError is a failed notification send to one target.
type DeliveryError struct {
	Target int64
	Err    error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("deliver to %d: %v", e.Target, e.Err) }

func (e *DeliveryError) Unwrap() error { return e.Err }
