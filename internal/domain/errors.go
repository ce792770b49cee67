package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a connection-level failure (refused, closed,
// timeout). It triggers the reconnect policy and is surfaced to consumers
// as a connection-status event.
type TransportError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error
	Retriable bool
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool { return e.Retriable }

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a retriable transport error
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: true}
}

// NewFatalTransportError creates a non-retriable transport error
func NewFatalTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: false}
}

// DecodeError represents a malformed or unexpected message shape. The
// offending message is logged and dropped; processing continues.
type DecodeError struct {
	Channel string // Channel the message arrived on, if known
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := "decode error"
	if e.Channel != "" {
		msg += " [" + e.Channel + "]"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) IsRetriable() bool { return false }

func (e *DecodeError) Unwrap() error { return e.Err }

// SubscriptionError represents a per-pair subscribe failure. Other pairs
// are unaffected.
type SubscriptionError struct {
	Pair string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return "subscribe " + e.Pair + ": " + e.Err.Error()
}

func (e *SubscriptionError) IsRetriable() bool { return true }

func (e *SubscriptionError) Unwrap() error { return e.Err }

// AuthError represents a signature or credential failure on the private
// connection. The public stream is unaffected.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "auth: " + e.Err.Error()
}

func (e *AuthError) IsRetriable() bool { return false }

func (e *AuthError) Unwrap() error { return e.Err }

// StorageError represents a persistence read/write failure. Surfaced as a
// returned error; the caller decides whether to retry.
type StorageError struct {
	Op   string
	Path string
	Key  string // Offending key for load failures, empty otherwise
	Err  error
}

func (e *StorageError) Error() string {
	msg := "storage " + e.Op
	if e.Path != "" {
		msg += " [" + e.Path + "]"
	}
	if e.Key != "" {
		msg += " key=" + e.Key
	}
	return msg + ": " + e.Err.Error()
}

func (e *StorageError) IsRetriable() bool { return true }

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError represents caller-supplied bad input, rejected
// synchronously at the call boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) IsRetriable() bool { return false }

var (
	// ErrConnectionClosed is returned when the transport closes mid-stream. Usually retriable.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected is returned when sending on a transport that is not connected.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownPair is returned for operations on a pair that was never initialized.
	ErrUnknownPair = errors.New("unknown pair")

	// ErrMissingCredentials is returned when the private stream is started without API keys.
	ErrMissingCredentials = errors.New("missing credentials")
)
