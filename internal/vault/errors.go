package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for the shared taxonomy. Adapters map every
// backend-native status code or exception to one of these before
// returning. Check with errors.Is(err, vault.ErrNotFound).
var (
	ErrNetwork          = errors.New("vault: network unreachable")
	ErrAuthExpired      = errors.New("vault: authentication expired")
	ErrPermissionDenied = errors.New("vault: permission denied")
	ErrNotFound         = errors.New("vault: not found")
	ErrQuotaExceeded    = errors.New("vault: storage quota exceeded")
	ErrRateLimited      = errors.New("vault: rate limited")

	// ErrAuthInProgress is returned when Authenticate is called while a
	// previous attempt is still awaiting its callback.
	ErrAuthInProgress = errors.New("vault: authentication already in progress")
)

// Error wraps a sentinel with the originating provider, HTTP status, and
// the raw backend message for debugging. Unclassified failures carry a
// nil sentinel and act as the GENERIC bucket.
type Error struct {
	Provider string
	Status   int
	Message  string
	Err      error // sentinel, for errors.Is(); nil for generic
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FromStatus classifies an HTTP status code into the taxonomy. 2xx maps
// to nil. Codes with no mapping produce a generic *Error carrying the
// raw message.
func FromStatus(provider string, status int, message string) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	var sentinel error

	switch status {
	case http.StatusUnauthorized:
		sentinel = ErrAuthExpired
	case http.StatusForbidden:
		sentinel = ErrPermissionDenied
	case http.StatusNotFound, http.StatusGone:
		sentinel = ErrNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		sentinel = ErrQuotaExceeded
	case http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		sentinel = ErrNetwork
	}

	return &Error{Provider: provider, Status: status, Message: message, Err: sentinel}
}

// Classify wraps a transport-level failure. Timeouts, DNS failures, and
// context deadlines become ErrNetwork; already-classified errors pass
// through unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	var ve *Error
	if errors.As(err, &ve) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Message: err.Error(), Err: ErrNetwork}
	}

	return &Error{Provider: provider, Message: err.Error()}
}
