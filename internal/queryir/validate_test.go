package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/diag"
)

func TestValidate_Consistent(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Require{Type: "Game.Position", Implied: true, At: -1},
		Any{Type: "Game.Frozen", At: 2},
		Exclude{Type: "Game.Dead", At: 3},
	}}
	r := Validate(d)
	assert.True(t, r.OK())
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestValidate_RequiredAndExcluded(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Require{Type: "Game.Frozen", ReadOnly: true, At: 2},
		Exclude{Type: "Game.Frozen", At: 3},
	}}
	r := Validate(d)
	assert.False(t, r.OK())
	require.Len(t, r.Errors, 1)
	c := r.Errors[0]
	assert.Equal(t, diag.ErrRequiredExcluded, c.Code)
	assert.Equal(t, "Game.Frozen", c.Type)
	assert.Equal(t, 3, c.At)
	assert.Contains(t, c.Message, "RequireAll")
}

func TestValidate_ParameterExcluded(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Exclude{Type: "Game.Position", At: 2},
		Require{Type: "Game.Position", Implied: true, At: -1},
	}}
	r := Validate(d)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, 2, r.Errors[0].At, "parameter-implied terms have no position")
	assert.Contains(t, r.Errors[0].Message, "lambda parameter")
}

func TestValidate_FilterExcluded(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Changed{Type: "Game.Velocity", At: 2},
		Exclude{Type: "Game.Velocity", At: 3},
	}}
	r := Validate(d)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, diag.ErrRequiredExcluded, r.Errors[0].Code)
	assert.Contains(t, r.Errors[0].Message, "WithChangeFilter")
}

func TestValidate_AnyExcluded(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Any{Type: "Game.Frozen", At: 2},
		Exclude{Type: "Game.Frozen", At: 5},
	}}
	r := Validate(d)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, diag.ErrAnyExcluded, r.Errors[0].Code)
	assert.Equal(t, 5, r.Errors[0].At)
}

func TestValidate_ReportsEachTypeOnce(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Require{Type: "B", At: 1},
		Require{Type: "B", Implied: true, At: -1},
		Exclude{Type: "B", At: 2},
		Exclude{Type: "B", At: 3},
		Require{Type: "A", At: 4},
		Exclude{Type: "A", At: 5},
	}}
	r := Validate(d)
	require.Len(t, r.Errors, 2)
	assert.Equal(t, "A", r.Errors[0].Type)
	assert.Equal(t, "B", r.Errors[1].Type)
	assert.Equal(t, 2, r.Errors[1].At, "first occurrences are paired")
}

func TestValidate_RedundantAny(t *testing.T) {
	d := &Descriptor{Terms: []Term{
		Require{Type: "Game.Position", At: -1, Implied: true},
		Any{Type: "Game.Position", At: 4},
	}}
	r := Validate(d)
	assert.True(t, r.OK(), "redundancy is only a warning")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, diag.WarnRedundantAny, r.Warnings[0].Code)
}
