package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for the finstats client
var (
	// Session errors
	ErrAuthentication    = errors.New("authentication rejected")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoSession         = errors.New("no active session")
	ErrSessionNotFound   = errors.New("session not found")
	ErrStaleSession      = errors.New("session changed while request was in flight")

	// Realtime errors
	ErrTransport    = errors.New("transport error")
	ErrNotConnected = errors.New("assistant channel not connected")
	ErrReplyPending = errors.New("assistant reply still pending")
	ErrEmptyPrompt  = errors.New("prompt is empty")

	// General errors
	ErrClosed = errors.New("closed")
)

// backendMessagePrefix is prepended by the backend to validation messages.
const backendMessagePrefix = "Hata mesajı : "

// StatusError describes a non-success HTTP response from a backend.
type StatusError struct {
	StatusCode int
	Messages   []string
	kind       error
}

// NewStatusError classifies a status code into the error taxonomy.
func NewStatusError(statusCode int, messages []string) *StatusError {
	kind := ErrTransport
	if statusCode == 401 || statusCode == 403 {
		kind = ErrAuthentication
	}
	cleaned := make([]string, 0, len(messages))
	for _, m := range messages {
		m = strings.TrimSpace(strings.TrimPrefix(m, backendMessagePrefix))
		if m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &StatusError{StatusCode: statusCode, Messages: cleaned, kind: kind}
}

func (e *StatusError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: status %d", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.kind, e.StatusCode, strings.Join(e.Messages, "; "))
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Transport marks err as a transport failure while keeping it in the chain.
func Transport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single import.
func New(text string) error {
	return errors.New(text)
}
