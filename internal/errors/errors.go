package errors

import (
	"errors"
	"fmt"
)

// Subscription errors.
var (
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrConfigPersist       = errors.New("persisting subscription config failed")
)

// TransportError reports a non-success response status from the sync
// server. The pull cycle is abandoned without touching local state and
// without scheduling a retry.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server returned status %d: %v", e.StatusCode, e.Err)
	}

	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or any error in its chain) is a
// TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError reports a malformed pull response. Stage names the
// pipeline step that failed: "base64", "gzip", "parse", or "schema".
// A DecodeError aborts the whole pull cycle; no partial batch is ever
// applied. An empty decoded batch is NOT a DecodeError.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding pull response (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecode reports whether err (or any error in its chain) is a
// DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
