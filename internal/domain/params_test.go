package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamSchema_Validate_OK(t *testing.T) {
	p := Parameters{"lookback": 20, ParamPositionSize: 0.10}
	assert.NoError(t, DefaultParamSchema().Validate(p))
}

func TestParamSchema_Validate_PositionSizeGuard(t *testing.T) {
	p := Parameters{"lookback": 20, ParamPositionSize: 0.1000001}
	err := DefaultParamSchema().Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPositionSizeExceeded)
}

func TestParamSchema_Validate_MissingPositionSize(t *testing.T) {
	err := DefaultParamSchema().Validate(Parameters{"lookback": 20})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestParamSchema_Validate_NotFinite(t *testing.T) {
	p := Parameters{"lookback": math.NaN(), ParamPositionSize: 0.05}
	assert.ErrorIs(t, DefaultParamSchema().Validate(p), ErrInvalidParameters)
}

func TestParamSchema_Validate_Bounds(t *testing.T) {
	s := DefaultParamSchema()
	s.Bounds = map[string]Bound{"lookback": {Min: 5, Max: 60}}

	assert.NoError(t, s.Validate(Parameters{"lookback": 60, ParamPositionSize: 0.05}))
	assert.ErrorIs(t, s.Validate(Parameters{"lookback": 61, ParamPositionSize: 0.05}), ErrInvalidParameters)
}

func TestParamSchema_Validate_Empty(t *testing.T) {
	assert.ErrorIs(t, DefaultParamSchema().Validate(nil), ErrInvalidParameters)
}

func TestParameters_CloneIsIndependent(t *testing.T) {
	p := Parameters{"a": 1}
	c := p.Clone()
	c["a"] = 2
	assert.Equal(t, 1.0, p["a"])
	assert.False(t, p.Equal(c))
}

func TestParameters_KeysSorted(t *testing.T) {
	p := Parameters{"z": 1, "a": 2, "m": 3}
	assert.Equal(t, []string{"a", "m", "z"}, p.Keys())
}
