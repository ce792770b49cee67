package domain

import (
	"errors"
	"testing"
)

func TestTransportErrorRetriability(t *testing.T) {
	retriable := NewTransportError("connect", errors.New("refused"))
	if !retriable.IsRetriable() {
		t.Error("NewTransportError should be retriable")
	}

	fatal := NewFatalTransportError("connect", errors.New("bad url"))
	if fatal.IsRetriable() {
		t.Error("NewFatalTransportError should not be retriable")
	}
}

func TestIsRetriable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"retriable transport", NewTransportError("read", ErrConnectionClosed), true},
		{"fatal transport", NewFatalTransportError("connect", errors.New("x")), false},
		{"decode", &DecodeError{Channel: "ticker", Reason: "missing field"}, false},
		{"subscription", &SubscriptionError{Pair: "BTC/USD", Err: errors.New("rejected")}, true},
		{"auth", &AuthError{Err: ErrMissingCredentials}, false},
		{"storage", &StorageError{Op: "save", Path: "state.json", Err: errors.New("disk")}, true},
		{"validation", &ValidationError{Field: "key", Reason: "empty"}, false},
		{"plain error", errors.New("whatever"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetriable(tc.err); got != tc.want {
				t.Errorf("IsRetriable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetriableWrapped(t *testing.T) {
	var err error = NewTransportError("read", ErrConnectionClosed)
	wrapped := errors.Join(errors.New("outer"), err)
	if !IsRetriable(wrapped) {
		t.Error("retriability should survive wrapping")
	}
}

func TestErrorUnwrapping(t *testing.T) {
	terr := NewTransportError("read", ErrConnectionClosed)
	if !errors.Is(terr, ErrConnectionClosed) {
		t.Error("TransportError should unwrap to its cause")
	}

	aerr := &AuthError{Err: ErrMissingCredentials}
	if !errors.Is(aerr, ErrMissingCredentials) {
		t.Error("AuthError should unwrap to its cause")
	}

	serr := &StorageError{Op: "load", Path: "state.json", Key: "feed_status", Err: errors.New("truncated")}
	msg := serr.Error()
	if msg != "storage load [state.json] key=feed_status: truncated" {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	derr := &DecodeError{Channel: "book", Reason: "malformed message", Err: errors.New("bad level")}
	want := "decode error [book]: malformed message: bad level"
	if got := derr.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	bare := &DecodeError{Reason: "empty frame"}
	if got := bare.Error(); got != "decode error: empty frame" {
		t.Errorf("got %q", got)
	}
}
