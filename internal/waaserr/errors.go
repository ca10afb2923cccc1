// Package waaserr holds the error classes shared by the signing pipeline.
//
// Every failure leaving the core wraps exactly one of the sentinels below so
// callers can tell a malformed request from a remote rejection from a network
// fault with errors.Is.
package waaserr

import (
	"errors"
	"fmt"
)

var (
	ErrContractViolation        = errors.New("contract violation")
	ErrInvalidKeyMaterial       = errors.New("invalid key material")
	ErrSigningError             = errors.New("signing error")
	ErrDecryptionError          = errors.New("decryption error")
	ErrPayloadTooLarge          = errors.New("payload too large")
	ErrTransientNetwork         = errors.New("transient network failure")
	ErrNetwork                  = errors.New("network failure")
	ErrRemoteRejected           = errors.New("remote rejected")
	ErrHTTPStatus               = errors.New("unexpected http status")
	ErrInvalidCallbackSignature = errors.New("invalid callback signature")
	ErrMissingCallbackHeaders   = errors.New("missing callback headers")
	ErrMerchantMismatch         = errors.New("merchant id mismatch")
)

// RemoteRejected carries the processor's result code and message verbatim.
type RemoteRejected struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *RemoteRejected) Error() string {
	return fmt.Sprintf("remote rejected: code=%s message=%q", e.Code, e.Message)
}

func (e *RemoteRejected) Is(target error) bool { return target == ErrRemoteRejected }

// HTTPStatusError is a non-2xx answer from the processor. RemoteCode and
// RemoteMessage are filled when the body still carried a {code,message} pair.
type HTTPStatusError struct {
	StatusCode    int
	RemoteCode    string
	RemoteMessage string
}

func (e *HTTPStatusError) Error() string {
	if e.RemoteCode != "" {
		return fmt.Sprintf("http status %d: code=%s message=%q", e.StatusCode, e.RemoteCode, e.RemoteMessage)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrHTTPStatus }

// Contract wraps ErrContractViolation with the offending field.
func Contract(field, format string, args ...any) error {
	return fmt.Errorf("%w: field %q: %s", ErrContractViolation, field, fmt.Sprintf(format, args...))
}

// Retryable reports whether err belongs to the only retryable class.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}

// Redact keeps a short prefix of a sensitive value for diagnostics.
func Redact(s string) string {
	const keep = 4
	if s == "" {
		return "MISSING"
	}
	if len(s) <= keep*2 {
		return "****"
	}
	return s[:keep] + "****"
}
