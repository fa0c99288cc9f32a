package admission

import (
	"errors"
	"fmt"
)

// ErrAdmissionRejected is the base error every rejection wraps. Callers use
// errors.Is against it to distinguish a policy rejection from an
// infrastructure failure.
var ErrAdmissionRejected = errors.New("admission rejected")

// ServerCapacityError reports that admitting the request would push the
// server-wide window total past the configured ceiling. The figures are
// diagnostic, not retry hints.
type ServerCapacityError struct {
	CurrentBytes   int64
	RequestedBytes int64
	AvailableBytes int64
}

func (e *ServerCapacityError) Error() string {
	return fmt.Sprintf(
		"server memory limit exceeded: current usage %d bytes, requested %d bytes, available %d bytes",
		e.CurrentBytes, e.RequestedBytes, e.AvailableBytes)
}

func (e *ServerCapacityError) Unwrap() error { return ErrAdmissionRejected }

// KeyQuotaError reports that admitting the request would push one key's
// window total past its quota.
type KeyQuotaError struct {
	KeyName        string
	UsageBytes     int64
	RequestedBytes int64
	QuotaBytes     int64
}

func (e *KeyQuotaError) Error() string {
	return fmt.Sprintf(
		"memory quota exceeded for key %q: usage %d bytes, requested %d bytes, quota %d bytes",
		e.KeyName, e.UsageBytes, e.RequestedBytes, e.QuotaBytes)
}

func (e *KeyQuotaError) Unwrap() error { return ErrAdmissionRejected }

// RateLimitError reports that a key exceeded its submission rate for the
// trailing window.
type RateLimitError struct {
	KeyName string
	Count   int
	Limit   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf(
		"rate limit exceeded for key %q: %d requests in window, limit %d",
		e.KeyName, e.Count, e.Limit)
}

func (e *RateLimitError) Unwrap() error { return ErrAdmissionRejected }
