package cachetable

// errors.go collects the sentinel errors returned across the public API,
// following the teacher's convention of package-level Err* values rather
// than bespoke error types, so callers can compare with errors.Is.
//
// © 2025 cachetable authors. MIT License.

import (
	"errors"

	"github.com/Voskan/cachetable/internal/bjm"
)

var (
	// ErrFileNumNotFound is returned when a Cachefile is looked up by a
	// FileNum the CachefileList does not know about.
	ErrFileNumNotFound = errors.New("cachetable: file number not found")

	// ErrFileIDNotFound is returned when a Cachefile is looked up by a
	// FileID (device, inode) the CachefileList does not know about.
	ErrFileIDNotFound = errors.New("cachetable: file id not found")

	// ErrAlreadyOpen is returned by OpenFdWithFilenum when the requested
	// FileNum is already assigned to another open Cachefile.
	ErrAlreadyOpen = errors.New("cachetable: file number already open")

	// ErrTryAgain is returned by GetAndPinNonblocking when the pin would
	// have had to block; the cache has already run the supplied unlockers,
	// and the caller is expected to reacquire its locks and retry.
	ErrTryAgain = errors.New("cachetable: would block, try again")

	// ErrClosing is re-exported from internal/bjm so callers of the
	// public API never need to import the internal package to compare
	// against it.
	ErrClosing = bjm.ErrClosing

	// ErrPairNotFound names the "pair not present" condition. No
	// operation in this package returns it: Prefetch reports nothing and
	// MaybeGetAndPin* report a missing pair with a false result.
	ErrPairNotFound = errors.New("cachetable: pair not found")

	// ErrShuttingDown names the "cachetable is shutting down" condition.
	// No operation in this package returns it; calls made after Shutdown
	// are not rejected.
	ErrShuttingDown = errors.New("cachetable: cachetable is shutting down")
)

// invariant panics with msg if cond is false. Used at internal
// consistency checkpoints that should never fail except under a
// programming error (mirrors the teacher's use of panic for broken
// invariants rather than returning an error from an unexported helper).
func invariant(cond bool, msg string) {
	if !cond {
		panic("cachetable: invariant violated: " + msg)
	}
}
