package tensor

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_Rows(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		rows  int
		width int
	}{
		{"scalar", Shape{}, 1, 1},
		{"vector", Shape{5}, 1, 5},
		{"matrix", Shape{3, 4}, 3, 4},
		{"rank3", Shape{2, 3, 4}, 2, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, width := tt.shape.Rows()
			assert.Equal(t, tt.rows, rows)
			assert.Equal(t, tt.width, width)
		})
	}
}

func TestFromSlice_ShapeMismatch(t *testing.T) {
	_, err := FromSlice([]float64{1, 2, 3}, Shape{2, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromSlice([]float64{1}, Shape{0})
	require.Error(t, err)
}

func TestTensor_CloneIsDeep(t *testing.T) {
	a, err := FromSlice([]float64{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)

	b := a.Clone()
	b.Data()[0] = 42
	assert.Equal(t, 1.0, a.Data()[0])
	assert.False(t, a.Equal(b))

	require.NoError(t, a.CopyFrom(b))
	assert.True(t, a.Equal(b))
}

func TestTensor_EqualIsBitwise(t *testing.T) {
	a := Full(Shape{1}, 0)
	b := Full(Shape{1}, math.Copysign(0, -1))
	assert.False(t, a.Equal(b), "+0 and -0 differ bitwise")
}

func TestSnap_ExactRoundTrip(t *testing.T) {
	values := []float64{0.1, -3.75, 1e-9, 123.456789, -2047.5}
	deltas := []float64{1e-3, -2.5e-4, 7.77e-6, 0.5}

	for _, v := range values {
		x := Snap(v)
		require.True(t, OnLattice(x))
		for _, d := range deltas {
			q := Snap(d)
			y := x + q
			assert.Equal(t, math.Float64bits(x), math.Float64bits(y-q), "x=%v d=%v", x, d)
			z := y - 2*q
			assert.Equal(t, math.Float64bits(x), math.Float64bits(z+q), "x=%v d=%v", x, d)
		}
	}
}

func TestSnapInPlace_Errors(t *testing.T) {
	over := Full(Shape{2}, MaxMagnitude*2)
	err := over.SnapInPlace("w")
	require.ErrorIs(t, err, ErrLatticeOverflow)

	var ve *ValueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "w", ve.Tensor)

	nan := Full(Shape{1}, math.NaN())
	require.ErrorIs(t, nan.SnapInPlace(""), ErrNonFinite)
}

func TestFingerprint_DetectsSingleBitChange(t *testing.T) {
	a, err := FromSlice([]float64{1, 2, 3}, Shape{3})
	require.NoError(t, err)
	before := Fingerprint([]*Tensor{a})

	a.Data()[1] = math.Nextafter(2, 3)
	after := Fingerprint([]*Tensor{a})
	assert.NotEqual(t, before, after)

	a.Data()[1] = 2
	assert.Equal(t, before, Fingerprint([]*Tensor{a}))
}

func TestCheckpoint_WriteRead(t *testing.T) {
	w, err := FromSlice([]float64{0.5, -1.25, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	b, err := FromSlice([]float64{7}, Shape{1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCheckpoint(&buf, []Named{{"layer.weight", w}, {"layer.bias", b}}))

	got, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "layer.weight", got[0].Name)
	assert.True(t, got[0].Tensor.Equal(w))
	assert.Equal(t, "layer.bias", got[1].Name)
	assert.True(t, got[1].Tensor.Equal(b))
}

func TestCheckpoint_RejectsGarbage(t *testing.T) {
	_, err := ReadCheckpoint(bytes.NewReader([]byte("not a checkpoint")))
	require.Error(t, err)
}
