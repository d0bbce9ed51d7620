package cachetable

// hash.go implements the fullhash bit-mixing function from spec §3:
// "fullhash is a 32-bit hash derived from (cachefile.hash_id, key) using
// a bit-mixing function". xxhash/v2 is promoted from an indirect
// teacher dependency to a direct one here, since this is exactly the
// kind of fast non-cryptographic mixing function it's built for.
//
// © 2025 cachetable authors. MIT License.

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ComputeFullHash is the exported form of computeFullHash, for callers
// (GetKeyAndFullHash implementations, tests) that need to derive a
// FullHash outside the package.
func ComputeFullHash(cf *Cachefile, key BlockNum) FullHash {
	return computeFullHash(cf.HashID(), key)
}

// computeFullHash mixes a cachefile's hash_id salt with a block number
// into the 32-bit hash used to address the pair list's bucket array.
func computeFullHash(hashID uint32, key BlockNum) FullHash {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], hashID)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(key))
	sum := xxhash.Sum64(buf[:])
	return FullHash(uint32(sum) ^ uint32(sum>>32))
}
