package types

import (
	"errors"
	"fmt"
)

// Error taxonomy. Errors are recovered at the nearest loop boundary; no
// individual detector failure halts the engine.

// ErrInsufficientBalance is returned by the risk guard when entries are paused.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ConfigurationError is fatal at startup: missing credentials or invalid CLI.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// TransientNetworkError wraps HTTP timeouts, socket disconnects and RPC
// hiccups. Callers retry with backoff; the strategy runtime sleeps and
// resumes when it persists.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// VenueRejection carries the venue-reported reason for a rejected order.
// Not retried automatically.
type VenueRejection struct {
	OrderID string
	Reason  string
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue rejected order: %s", e.Reason)
}

// PartialFillHazard signals that one leg of a multi-leg entry or exit
// succeeded while the other failed, triggering the rollback path.
type PartialFillHazard struct {
	FilledToken string
	FailedToken string
	Err         error
}

func (e *PartialFillHazard) Error() string {
	return fmt.Sprintf("partial fill hazard: leg %s filled, leg %s failed: %v",
		e.FilledToken, e.FailedToken, e.Err)
}

func (e *PartialFillHazard) Unwrap() error { return e.Err }

// CriticalHazard covers rollback failures and persistence failures after a
// successful order. Logged at error level and left for manual
// reconciliation; the runtime does not halt.
type CriticalHazard struct {
	Op  string
	Err error
}

func (e *CriticalHazard) Error() string {
	return fmt.Sprintf("critical hazard during %s: %v", e.Op, e.Err)
}

func (e *CriticalHazard) Unwrap() error { return e.Err }

// DataIntegrityError marks invalid order books and unparseable matcher
// output. The offending opportunity is discarded and the scan continues.
type DataIntegrityError struct {
	Reason string
}

func NewDataIntegrityError(reason string) *DataIntegrityError {
	return &DataIntegrityError{Reason: reason}
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity error: %s", e.Reason)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsCritical reports whether err must never be silenced.
func IsCritical(err error) bool {
	var c *CriticalHazard
	return errors.As(err, &c)
}
