package roomsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Submit while the controller serves the
	// cached view.
	ErrNotConnected = errors.New("roomsync: not connected")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("roomsync: controller closed")

	// ErrNotStarted is returned by operations before Start.
	ErrNotStarted = errors.New("roomsync: controller not started")
)

// Kind classifies engine failures.
type Kind int

const (
	// ConnectivityUnknown means connectivity could not be determined and was
	// treated as Offline.
	ConnectivityUnknown Kind = iota + 1
	// SubscriptionFailure means the live subscription could not be opened.
	SubscriptionFailure
	// AppendFailure means the remote store rejected a submission.
	AppendFailure
	// CacheIOFailure means the local cache could not be read or written.
	CacheIOFailure
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case ConnectivityUnknown:
		return "connectivity_unknown"
	case SubscriptionFailure:
		return "subscription_failure"
	case AppendFailure:
		return "append_failure"
	case CacheIOFailure:
		return "cache_io_failure"
	default:
		return "unknown"
	}
}

// Error is a classified engine failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("roomsync: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("roomsync: %s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &roomsync.Error{Kind: roomsync.AppendFailure}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
