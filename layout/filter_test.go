package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_AcceptsAllNoneAlwaysTrue(t *testing.T) {
	tpl := NewTemplate(3)
	c := NewConstraintMatrix(3)
	assert.True(t, accepts(tpl, c, 3))
}

func Test_AcceptsMatchingConstraint(t *testing.T) {
	tpl := NewTemplate(2) // identity: 0 left-of 1
	c := NewConstraintMatrix(2)
	c.Set(0, 1, Left)
	assert.True(t, accepts(tpl, c, 2))
}

func Test_RejectsContradictingConstraint(t *testing.T) {
	tpl := NewTemplate(2) // identity: 0 left-of 1
	c := NewConstraintMatrix(2)
	c.Set(0, 1, Above)
	assert.False(t, accepts(tpl, c, 2))
}
