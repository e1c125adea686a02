package testutils

import (
	"cmp"
	"hash/fnv"
	"maps"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"
)

var baseSeed = sync.OnceValue(func() uint64 { //nolint:gochecknoglobals // one seed per test binary
	if env := os.Getenv("TEST_SEED"); env != "" {
		if seed, err := strconv.ParseUint(env, 0, 64); err == nil {
			return seed
		}
	}
	return uint64(time.Now().UnixNano()) //nolint:gosec // any bits will do
})

// NewRand returns a generator for t. The stream depends on TEST_SEED (or the clock) and the test
// name, so parallel tests draw independent sequences and a failure replays with the logged seed.
func NewRand(t *testing.T) *rand.Rand {
	t.Helper()

	seed := baseSeed()
	t.Logf("to reproduce: TEST_SEED=0x%x", seed)

	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Name()))
	return rand.New(rand.NewPCG(seed, h.Sum64())) //nolint:gosec // tests only
}

// PickKey returns a random key of m, typically a live entity id of a model. Keys are drawn in
// sorted order so the pick depends only on r, never on map iteration order. Panics if m is empty.
func PickKey[K cmp.Ordered, V any](r *rand.Rand, m map[K]V) K {
	if len(m) == 0 {
		panic("testutils: PickKey on an empty map")
	}
	keys := slices.Sorted(maps.Keys(m))
	return keys[r.IntN(len(keys))]
}

// Weighted is an operation enum whose values double as their relative weights.
type Weighted interface {
	~uint8 | ~uint16 | ~uint32 | ~int
}

// PickWeighted returns one of ops with probability proportional to its value.
func PickWeighted[T Weighted](r *rand.Rand, ops []T) T {
	total := 0
	for _, op := range ops {
		total += int(op)
	}
	if total <= 0 {
		panic("testutils: PickWeighted needs a positive total weight")
	}

	n := r.IntN(total)
	i := 0
	for n >= int(ops[i]) {
		n -= int(ops[i])
		i++
	}
	return ops[i]
}

// RandLabel returns a lowercase word of 3 to 8 letters.
func RandLabel(r *rand.Rand) string {
	b := make([]byte, 3+r.IntN(6))
	for i := range b {
		b[i] = 'a' + byte(r.IntN(26))
	}
	return string(b)
}
