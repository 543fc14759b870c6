package routing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_HashDeterminism validates that fold16/1 is a pure function of
// its input: the same string always produces the same hash. Routing and
// index-key hashing rely on this to stay in agreement across processes.
func TestProperty_HashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same input hashes identically", prop.ForAll(
		func(s string) bool {
			return Fold16(s) == Fold16(s)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestProperty_ShardRange validates that every value lands in [0, numShards).
func TestProperty_ShardRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shard id is always within range", prop.ForAll(
		func(s string, n int) bool {
			if n < 1 {
				n = 1
			}
			shard, err := ShardFor(s, n)
			return err == nil && shard >= 0 && shard < n
		},
		gen.AnyString(),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
