package layout

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// No third-party property-testing library appears anywhere in this
// daemon's lineage; this uses a seeded math/rand generator the same way
// the rest of the corpus reaches for stdlib randomness, not a quickcheck
// package.
var propRand = rand.New(rand.NewSource(1))

func randomSizes(n int) []Size {
	sizes := make([]Size, n)
	for k := range sizes {
		sizes[k] = Size{W: 100 + propRand.Intn(1800), H: 100 + propRand.Intn(1000)}
	}
	return sizes
}

// randomConstraints produces a matrix with a few unordered pairs pinned
// to a random direction and the rest left none: each display, with even
// odds, pins one pair to a random partner, and no display is ever part of
// more than one pinned pair, which biases it toward satisfiable scenes.
func randomConstraints(n int) ConstraintMatrix {
	c := NewConstraintMatrix(n)
	if n < 2 {
		return c
	}
	constrained := make([]bool, n)
	dirs := []Direction{Left, Right, Above, Below}
	for a := 0; a < n; a++ {
		if constrained[a] || propRand.Intn(2) == 0 {
			continue
		}
		b := propRand.Intn(n)
		if b == a || constrained[b] {
			continue
		}
		c.Set(a, b, dirs[propRand.Intn(len(dirs))])
		constrained[a], constrained[b] = true, true
	}
	return c
}

func wideBounds() Bounds {
	return Bounds{WMax: 20000, HMax: 20000}
}

// Test_PropertyArrangementSatisfiesCoreInvariants covers invariants 1 and
// 2: every returned arrangement keeps each display inside [0,W]x[0,H],
// keeps W/H within bounds, and leaves no two displays overlapping.
func Test_PropertyArrangementSatisfiesCoreInvariants(t *testing.T) {
	for trial := 0; trial < 200; trial++ {
		n := 1 + propRand.Intn(4)
		sizes := randomSizes(n)
		c := randomConstraints(n)
		b := wideBounds()

		arr, err := ComputeLayout(context.Background(), b, sizes, c)
		if err != nil {
			require.ErrorIs(t, err, ErrNoLayout)
			continue
		}

		require.Len(t, arr.Pos, n)
		assert.LessOrEqual(t, arr.W, b.WMax)
		assert.LessOrEqual(t, arr.H, b.HMax)
		for k, p := range arr.Pos {
			assert.GreaterOrEqual(t, p.X, 0)
			assert.GreaterOrEqual(t, p.Y, 0)
			assert.LessOrEqual(t, p.X+sizes[k].W, arr.W)
			assert.LessOrEqual(t, p.Y+sizes[k].H, arr.H)
		}
		for a := 0; a < n; a++ {
			for bb := a + 1; bb < n; bb++ {
				_, ok := pairDirection(sizes[a], arr.Pos[a], sizes[bb], arr.Pos[bb])
				assert.True(t, ok, "trial %d: displays %d and %d overlap", trial, a, bb)
			}
		}
	}
}

// Test_PropertyDirectionInversionIsInvolutive covers invariant 5:
// inv(inv(d)) == d for every defined direction.
func Test_PropertyDirectionInversionIsInvolutive(t *testing.T) {
	for _, d := range []Direction{None, Left, Right, Above, Below} {
		assert.Equal(t, d, d.Invert().Invert())
	}
}

// Test_PropertyComputeLayoutIsDeterministic covers invariant 6: running
// the same inputs twice yields the same result, including the "no
// layout" case.
func Test_PropertyComputeLayoutIsDeterministic(t *testing.T) {
	for trial := 0; trial < 100; trial++ {
		n := 1 + propRand.Intn(4)
		sizes := randomSizes(n)
		c := randomConstraints(n)
		b := wideBounds()

		arr1, err1 := ComputeLayout(context.Background(), b, sizes, c)
		arr2, err2 := ComputeLayout(context.Background(), b, sizes, c)
		assert.Equal(t, err1, err2)
		assert.Equal(t, arr1, arr2)
	}
}

// Test_PropertyNormalizerRoundTripPreservesObjective covers invariant 4:
// normalizing a solved arrangement's own positions back into a
// constraint matrix and re-solving with that matrix yields the same
// objective as the original solve.
func Test_PropertyNormalizerRoundTripPreservesObjective(t *testing.T) {
	ctx := context.Background()
	trials := 0
	for trial := 0; trial < 200 && trials < 50; trial++ {
		n := 1 + propRand.Intn(4)
		sizes := randomSizes(n)
		c := randomConstraints(n)
		b := wideBounds()

		original, err := computeBestPacking(ctx, b, sizes, c)
		if err != nil {
			continue
		}
		trials++

		result := NormalizePositions(sizes, original.pos)
		require.False(t, result.Unsupported, "a solver's own output must always normalize back")

		roundTripped, err := computeBestPacking(ctx, b, sizes, result.Constraints)
		require.NoError(t, err)
		assert.Equal(t, original.objective, roundTripped.objective)
	}
	require.Greater(t, trials, 0, "no trial produced a layout to round-trip")
}
