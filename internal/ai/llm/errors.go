// Package llm holds the pieces shared by every classifier provider: the error
// taxonomy the batch runner retries on, the HTTP client, prompt rendering and
// response parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrRejected            = errors.New("ai provider rejected request")
)

// Kind tells the retry policy what to do with a failed call.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	default:
		return "fatal"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(provider string, err error) error {
	return &Error{Kind: KindTransient, Provider: provider, Err: err}
}

func Validation(provider string, err error) error {
	return &Error{Kind: KindValidation, Provider: provider, Err: err}
}

func Fatal(provider string, err error) error {
	return &Error{Kind: KindFatal, Provider: provider, Err: err}
}

// KindOf reports the kind of err. Unclassified network and deadline errors
// count as transient; everything else is fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrProviderUnavailable) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindFatal
}

// IsRetryable reports whether a call that failed with err may be attempted again.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// FromStatus maps a non-2xx HTTP response to an error. Throttling and server
// errors are transient; other client errors (bad key, bad model) are not.
func FromStatus(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient(provider, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, status, msg))
	case status >= 400:
		return Validation(provider, fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg))
	default:
		return Fatal(provider, fmt.Errorf("%w: unexpected status %d", ErrInvalidResponse, status))
	}
}
