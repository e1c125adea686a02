package testutils

import "github.com/argus-labs/entitystore/pkg/assert"

// Gen enumerates every combination of bounded choices, one combination per loop iteration:
//
//	g := testutils.NewGen()
//	for !g.Done() {
//		steps := g.Intn(3)   // 0..3
//		first := g.Bool()
//		...
//	}
//
// Each iteration records the sequence of choices made and their bounds. Done advances to the
// next sequence by incrementing the rightmost choice still below its bound and resetting every
// choice after it, so later choices vary fastest. Choices made after a reset start at zero with
// whatever bound the test requests on that iteration, which lets the shape of the enumeration
// depend on earlier choices.
//
// See: <https://matklad.github.io/2021/11/07/generate-all-the-things.html>
type Gen struct {
	started bool
	v       [32]struct{ value, bound uint32 }
	p       int
	pMax    int
}

// NewGen creates a new exhaustive generator.
func NewGen() *Gen {
	return &Gen{}
}

// Done returns true when all combinations have been exhausted.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	i := g.pMax
	for i > 0 {
		i--
		if g.v[i].value < g.v[i].bound {
			g.v[i].value++
			g.pMax = i + 1
			g.p = 0
			return false
		}
	}
	return true
}

func (g *Gen) gen(bound uint32) uint32 {
	assert.That(g.p < len(g.v), "exhaustigen: exceeded maximum depth of %d", len(g.v))
	if g.p == g.pMax {
		g.v[g.p] = struct{ value, bound uint32 }{value: 0, bound: 0}
		g.pMax++
	}
	g.p++
	g.v[g.p-1].bound = bound
	return g.v[g.p-1].value
}

// Intn returns an int in range [0, bound] (inclusive).
func (g *Gen) Intn(bound int) int {
	return int(g.gen(uint32(bound))) //nolint:gosec // bound is expected to be small in tests
}

// Bool returns an exhaustive boolean value.
func (g *Gen) Bool() bool {
	return g.Intn(1) == 1
}

// Pick returns an element from the slice.
func Pick[T any](g *Gen, slice []T) T {
	assert.That(len(slice) > 0, "exhaustigen: empty slice")
	return slice[g.Intn(len(slice)-1)]
}
