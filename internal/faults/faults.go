// Package faults holds the error categories shared by the lamp services.
// Errors returned by the network client, schedule store and output stage wrap
// one of these so callers can test them with errors.Is.
package faults

import "errors"

var (
	// ErrTransientNetwork covers timeouts, refused connections and malformed
	// responses. These are retried before being reported.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrValidation means a schedule document or entry was rejected.
	ErrValidation = errors.New("schedule validation failed")

	// ErrClockUnsynced means schedule math was requested before a time sync.
	ErrClockUnsynced = errors.New("clock not synced")

	// ErrHardwareFault means the output stage could not be driven. It is the
	// only unrecoverable error.
	ErrHardwareFault = errors.New("hardware fault")

	// ErrUnexpected wraps anything else raised inside a tick.
	ErrUnexpected = errors.New("unexpected fault")
)

// IsFatal reports whether err must stop the lamp
func IsFatal(err error) bool {
	return errors.Is(err, ErrHardwareFault)
}
