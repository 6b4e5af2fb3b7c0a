package event

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// squashHash8 truncates a 64-bit xxhash digest to its low 32 bits and
// formats it as an 8-character zero-padded hex string. The reference
// toolchain hashes with a genuine 32-bit xxhash; no 32-bit xxhash package
// exists in this module's dependency set, so the low 32 bits of xxhash/v2's
// Sum64 stand in for it. This changes concrete hash values relative to the
// reference implementation but preserves the contract: stable, deterministic,
// 8 hex characters.
func squashHash8(s string) string {
	sum := xxhash.Sum64String(s)
	return fmt.Sprintf("%08x", uint32(sum))
}
