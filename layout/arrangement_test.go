package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ArrangementEqual(t *testing.T) {
	a := &Arrangement{W: 100, H: 50, Pos: []Pair{{0, 0}, {50, 0}}}
	b := &Arrangement{W: 100, H: 50, Pos: []Pair{{0, 0}, {50, 0}}}
	c := &Arrangement{W: 100, H: 50, Pos: []Pair{{0, 0}, {51, 0}}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, (*Arrangement)(nil).Equal(nil))
	assert.False(t, a.Equal(nil))
}

func Test_NormalizePositionsOverlapIsUnsupported(t *testing.T) {
	sizes := []Size{{1920, 1080}, {1920, 1080}}
	pos := []Pair{{0, 0}, {100, 100}} // overlaps on both axes
	res := NormalizePositions(sizes, pos)
	assert.True(t, res.Unsupported)
}

func Test_NormalizePositionsOnePixelGapLeftOf(t *testing.T) {
	sizes := []Size{{1920, 1080}, {1280, 1024}}
	pos := []Pair{{0, 0}, {1921, 0}} // one-pixel gap on X, aligned on Y
	res := NormalizePositions(sizes, pos)
	assert.False(t, res.Unsupported)
	assert.Equal(t, Left, res.Constraints[0][1])
	assert.Equal(t, Right, res.Constraints[1][0])
}

func Test_NormalizePositionsEqualSeparationTiesToX(t *testing.T) {
	sizes := []Size{{100, 100}, {100, 100}}
	// X gap: 10 (100 -> 110). Y gap: 10 (100 -> 110). Tie -> X preferred.
	pos := []Pair{{0, 0}, {110, 110}}
	res := NormalizePositions(sizes, pos)
	assert.False(t, res.Unsupported)
	assert.Equal(t, Left, res.Constraints[0][1])
}

func Test_NormalizePositionsPrefersLargerGap(t *testing.T) {
	sizes := []Size{{100, 100}, {100, 100}}
	// X gap: 50 (100 -> 150). Y gap: 10 (100 -> 110). Y gap is smaller, X wins.
	pos := []Pair{{0, 0}, {150, 110}}
	res := NormalizePositions(sizes, pos)
	assert.False(t, res.Unsupported)
	assert.Equal(t, Left, res.Constraints[0][1])
}

func Test_NormalizePositionsYWinsWhenItsGapIsLarger(t *testing.T) {
	sizes := []Size{{100, 100}, {100, 100}}
	// X gap: 10 (100 -> 110). Y gap: 50 (100 -> 150). Y wins.
	pos := []Pair{{0, 0}, {110, 150}}
	res := NormalizePositions(sizes, pos)
	assert.False(t, res.Unsupported)
	assert.Equal(t, Above, res.Constraints[0][1])
}
