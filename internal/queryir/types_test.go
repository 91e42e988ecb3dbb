package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	d := &Descriptor{Options: 2}
	d.Add(
		Require{Type: "Game.Velocity", ReadOnly: true, Implied: true, At: -1},
		Require{Type: "Game.Position", ReadOnly: true, At: 3},
		Require{Type: "Game.Position", ReadOnly: false, Implied: true, At: -1},
		Any{Type: "Game.Frozen", At: 4},
		Exclude{Type: "Game.Dead", At: 5},
		Changed{Type: "Game.Velocity", At: 6},
		Changed{Type: "Game.Heading", At: 7},
		Shared{Type: "Game.Team", Arg: 0, At: 8},
	)
	q := d.Normalize()

	assert.Equal(t, []Component{
		{Type: "Game.Heading", ReadOnly: true},
		{Type: "Game.Position", ReadOnly: false},
		{Type: "Game.Team", ReadOnly: true},
		{Type: "Game.Velocity", ReadOnly: true},
	}, q.All, "sorted, mutable wins, filters imply read-only requirements")
	assert.Equal(t, []Component{{Type: "Game.Frozen", ReadOnly: true}}, q.Any)
	assert.Equal(t, []Component{{Type: "Game.Dead", ReadOnly: true}}, q.None)
	assert.Equal(t, []string{"Game.Heading", "Game.Velocity"}, q.Changed)
	assert.Equal(t, []Shared{{Type: "Game.Team", Arg: 0, At: 8}}, q.Shared)
	assert.Equal(t, int64(2), q.Options)
	assert.True(t, q.HasUseSiteFilters())
}

func TestNormalizeEmpty(t *testing.T) {
	q := (&Descriptor{}).Normalize()
	assert.Nil(t, q.All)
	assert.Nil(t, q.Any)
	assert.Nil(t, q.None)
	assert.False(t, q.HasUseSiteFilters())
}

func TestNormalizeIsOrderIndependent(t *testing.T) {
	terms := []Term{
		Require{Type: "B", ReadOnly: true},
		Require{Type: "A"},
		Require{Type: "B"},
		Exclude{Type: "C"},
	}
	forward := (&Descriptor{Terms: terms}).Normalize()
	reversed := make([]Term, len(terms))
	for i, t := range terms {
		reversed[len(terms)-1-i] = t
	}
	assert.Equal(t, forward, (&Descriptor{Terms: reversed}).Normalize())
}
