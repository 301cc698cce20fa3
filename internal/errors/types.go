// Package errors classifies backend failures as transient or permanent and
// provides the retry and circuit breaker policies built on that split.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// TransientError marks a failure that may succeed if attempted again.
type TransientError struct {
	Err        error
	StatusCode int
}

// Error returns the wrapped message unchanged so callers can surface it verbatim.
func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not change on retry.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewTransient wraps err as transient.
func NewTransient(err error) *TransientError {
	return &TransientError{Err: err}
}

// NewPermanent wraps err as permanent.
func NewPermanent(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// FromHTTPStatus classifies a non-2xx response. 429 and 5xx are transient,
// every other status is permanent.
func FromHTTPStatus(status int, err error) error {
	if err == nil {
		err = fmt.Errorf("%s", http.StatusText(status))
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return &TransientError{Err: err, StatusCode: status}
	}
	return &PermanentError{Err: err, StatusCode: status}
}

// IsTransient reports whether err may succeed on a later attempt. Explicit
// markers win; otherwise network and syscall failures count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return isNetworkError(err) || isSyscallError(err)
}

// IsPermanent reports whether err is explicitly permanent.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// StatusCode returns the HTTP status attached to a classified error, or 0.
func StatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return permanentErr.StatusCode
	}
	return 0
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
