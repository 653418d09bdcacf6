package errors

import (
	"fmt"
)

// StateError occurs when executor components are used before they are initialized, or initialized twice
type StateError struct{ Msg string }

// Error returns a textual representation of this StateError
func (e StateError) Error() string {
	return e.Msg
}

// ConfigurationError occurs when a required runtime handle is missing, or a configuration value is invalid
type ConfigurationError struct {
	Key string
	Msg string
}

// Error returns a textual representation of this ConfigurationError
func (e ConfigurationError) Error() string {
	if len(e.Key) == 0 {
		return e.Msg
	}
	return fmt.Sprintf("Invalid configuration for %s: %s", e.Key, e.Msg)
}

// WriteFailure occurs when map output cannot be written or committed. Partial files have
// already been cleaned up by the time a WriteFailure is returned.
type WriteFailure struct {
	ShuffleID int
	MapID     int
	Cause     error
}

// Error returns a textual representation of this WriteFailure
func (e WriteFailure) Error() string {
	return fmt.Sprintf("Failed to write map output for shuffle %d map %d: %v", e.ShuffleID, e.MapID, e.Cause)
}

// Unwrap returns the underlying cause of this WriteFailure
func (e WriteFailure) Unwrap() error {
	return e.Cause
}

// ReadFailure occurs when a single block cannot be opened or read
type ReadFailure struct {
	BlockID string
	Cause   error
}

// Error returns a textual representation of this ReadFailure
func (e ReadFailure) Error() string {
	return fmt.Sprintf("Failed to read block %s: %v", e.BlockID, e.Cause)
}

// Unwrap returns the underlying cause of this ReadFailure
func (e ReadFailure) Unwrap() error {
	return e.Cause
}

// ChecksumMismatchError occurs when the bytes read for a block do not match its expected checksum
type ChecksumMismatchError struct {
	Expected uint64
	Actual   uint64
}

// Error returns a textual representation of this ChecksumMismatchError
func (e ChecksumMismatchError) Error() string {
	return fmt.Sprintf("Checksum mismatch: expected %x, computed %x", e.Expected, e.Actual)
}

// NoMoreStreamsError occurs when there are no more streams in a BlockInputStreamIterator
type NoMoreStreamsError struct{}

// Error returns a textual representation of this NoMoreStreamsError
func (e NoMoreStreamsError) Error() string {
	return "No more streams"
}
