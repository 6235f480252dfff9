package errors

import (
	"fmt"
	"time"
)

// ShapeError occurs when the length or shape of a value does not match what an operation expects
type ShapeError struct {
	What     string
	Expected string
	Actual   string
}

// Error returns a textual representation of this ShapeError
func (e ShapeError) Error() string {
	return fmt.Sprintf("Shape mismatch for %s: expected %s, got %s", e.What, e.Expected, e.Actual)
}

// OutOfRangeError occurs when an id is looked up outside of the range of a collection
type OutOfRangeError struct {
	What  string
	ID    int64
	Bound int64
}

// Error returns a textual representation of this OutOfRangeError
func (e OutOfRangeError) Error() string {
	if e.Bound < 0 {
		return fmt.Sprintf("Id %d is not present in %s", e.ID, e.What)
	}
	return fmt.Sprintf("Id %d is out of range for %s (bound %d)", e.ID, e.What, e.Bound)
}

// RoutingError occurs when an id has no entry in a partition book
type RoutingError struct {
	Name string
	ID   int64
}

// Error returns a textual representation of this RoutingError
func (e RoutingError) Error() string {
	return fmt.Sprintf("Id %d of tensor %q has no owner in the partition book", e.ID, e.Name)
}

// MissingRowError occurs when a server owns an id, but no row has been written for it
type MissingRowError struct {
	Name string
	ID   int64
}

// Error returns a textual representation of this MissingRowError
func (e MissingRowError) Error() string {
	return fmt.Sprintf("Row %d of tensor %q has not been initialized or pushed", e.ID, e.Name)
}

// PartitionBookConflictError occurs when a client publishes a partition book which differs from the one already published
type PartitionBookConflictError struct {
	Name string
}

// Error returns a textual representation of this PartitionBookConflictError
func (e PartitionBookConflictError) Error() string {
	return fmt.Sprintf("A different partition book has already been published for tensor %q", e.Name)
}

// StallError occurs when no batch arrives on a pipeline's output queue within the configured wait
type StallError struct {
	Waited time.Duration
}

// Error returns a textual representation of this StallError
func (e StallError) Error() string {
	return fmt.Sprintf("Pipeline stalled: no batch received in %s", e.Waited)
}

// TimeoutError occurs when a rendezvous operation does not complete in time
type TimeoutError struct {
	Op string
}

// Error returns a textual representation of this TimeoutError
func (e TimeoutError) Error() string {
	return fmt.Sprintf("Timed out waiting for %s", e.Op)
}

// TransportError occurs when a request to a remote partition fails. The whole operation is failed with it.
type TransportError struct {
	Op   string
	Rank int
	Err  error
}

// Error returns a textual representation of this TransportError
func (e TransportError) Error() string {
	return fmt.Sprintf("%s failed on server %d: %v", e.Op, e.Rank, e.Err)
}

// Unwrap returns the underlying transport error
func (e TransportError) Unwrap() error {
	return e.Err
}

// ReleasedError occurs when a resource is used after it has been released
type ReleasedError struct {
	What string
}

// Error returns a textual representation of this ReleasedError
func (e ReleasedError) Error() string {
	return fmt.Sprintf("%s has already been released", e.What)
}

// AlreadyPinnedError occurs when a buffer which is pinned is pinned again
type AlreadyPinnedError struct{}

// Error returns a textual representation of this AlreadyPinnedError
func (e AlreadyPinnedError) Error() string {
	return "Buffer is already pinned"
}

// ShutDownError occurs when a key-value store is used after it has been shut down
type ShutDownError struct{}

// Error returns a textual representation of this ShutDownError
func (e ShutDownError) Error() string {
	return "Key-value store has been shut down"
}

// StateError occurs when an operation is attempted in a lifecycle state which does not permit it
type StateError struct {
	Op    string
	State string
}

// Error returns a textual representation of this StateError
func (e StateError) Error() string {
	return fmt.Sprintf("Cannot %s while %s", e.Op, e.State)
}

// BatchError associates a failure inside a pipeline stage with the batch being processed
type BatchError struct {
	Index int
	Stage string
	Err   error
}

// Error returns a textual representation of this BatchError
func (e BatchError) Error() string {
	return fmt.Sprintf("Batch %d failed in stage %s: %v", e.Index, e.Stage, e.Err)
}

// Unwrap returns the error raised by the stage
func (e BatchError) Unwrap() error {
	return e.Err
}
