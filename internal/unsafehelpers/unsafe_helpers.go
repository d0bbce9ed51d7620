// Package unsafehelpers centralises all unavoidable usage of the `unsafe`
// standard-library package so that the rest of cachetable stays clean and
// easier to audit. Every helper is documented with clear pre-/post-
// conditions.
//
// ⚠️  DISCLAIMER  These helpers deliberately break the Go memory-safety
// model for the sake of zero-allocation conversions. Use ONLY inside this
// repository; they are not part of the public API and may change without
// notice.
//
// © 2025 cachetable authors. MIT License.

package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   1. Zero-copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never modified for the lifetime of the
// returned string. No code in cachetable calls it.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

/* -------------------------------------------------------------------------
   2. Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align (which must be a
// power of two). No code in cachetable calls it; watermarks are derived
// from size_limit without alignment.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
// The pair list requires both its bucket count N and its mutex-shard
// count L to satisfy this.
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}
