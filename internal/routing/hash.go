// Package routing computes logical shard assignments from shard-key values.
// The hash is versioned and recorded in table metadata: changing it silently
// would remigrate every row, so a new algorithm means a new version string
// and an explicit reshard.
package routing

import (
	"fmt"
	"unicode/utf16"

	"github.com/Ankcorn/big-daddy/pkg/types"
)

// HashVersion identifies the current shard-hash algorithm.
const HashVersion = "fold16/1"

// Fold16 is the fold16/1 hash: a 32-bit string fold over the UTF-16 code
// units of the input, h ← h*31 + c. Values are canonicalized to strings
// before hashing, using the same form as single-column index keys.
func Fold16(s string) uint32 {
	var h uint32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + uint32(c)
	}
	return h
}

// ShardFor returns the logical shard id for a shard-key value.
func ShardFor(value interface{}, numShards int) (int, error) {
	if numShards < 1 {
		return 0, fmt.Errorf("routing: num_shards must be >= 1, got %d", numShards)
	}
	h := Fold16(types.Canonical(value))
	return int(h % uint32(numShards)), nil
}
