package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSymmetrize(t *testing.T) {
	t.Parallel()
	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	s := Symmetrize(m)
	want := [][]float64{{1, 3, 5}, {3, 5, 7}, {5, 7, 9}}
	for i := range want {
		for j := range want[i] {
			assert.Equal(t, want[i][j], s.At(i, j), "(%d,%d)", i, j)
		}
	}
}

func TestCheckCovariance(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CheckCovariance(mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})))
	assert.ErrorIs(t, CheckCovariance(mat.NewSymDense(2, []float64{1, 0, 0, -1e-3})), ErrCovariance)
	assert.ErrorIs(t, CheckCovariance(mat.NewSymDense(2, []float64{1, math.NaN(), math.NaN(), 1})), ErrCovariance)
	assert.ErrorIs(t, CheckCovariance(mat.NewSymDense(2, []float64{math.Inf(1), 0, 0, 1})), ErrCovariance)
}

func TestConfidenceEllipse(t *testing.T) {
	t.Parallel()

	t.Run("axis aligned", func(t *testing.T) {
		e, err := ConfidenceEllipse(mat.NewSymDense(2, []float64{4, 0, 0, 1}), 1, 2, 3)
		require.NoError(t, err)
		assert.InDelta(t, 6, e.SemiMajor, 1e-12)
		assert.InDelta(t, 3, e.SemiMinor, 1e-12)
		assert.InDelta(t, 0, math.Sin(e.Angle), 1e-12)
		assert.Equal(t, 1.0, e.CenterX)
		assert.Equal(t, 2.0, e.CenterY)
	})

	t.Run("rotated", func(t *testing.T) {
		e, err := ConfidenceEllipse(mat.NewSymDense(2, []float64{2.5, 1.5, 1.5, 2.5}), 0, 0, 1)
		require.NoError(t, err)
		assert.InDelta(t, 2, e.SemiMajor, 1e-12)
		assert.InDelta(t, 1, e.SemiMinor, 1e-12)
		assert.InDelta(t, 1, math.Tan(e.Angle), 1e-9)
	})

	t.Run("uses the xy block of a pose covariance", func(t *testing.T) {
		p := mat.NewSymDense(3, []float64{
			1, 0, 0.3,
			0, 1, 0.2,
			0.3, 0.2, 9,
		})
		e, err := ConfidenceEllipse(p, 0, 0, 2)
		require.NoError(t, err)
		assert.InDelta(t, 2, e.SemiMajor, 1e-12)
		assert.InDelta(t, 2, e.SemiMinor, 1e-12)
	})

	t.Run("rejects bad covariance", func(t *testing.T) {
		_, err := ConfidenceEllipse(mat.NewSymDense(2, []float64{-1, 0, 0, 1}), 0, 0, 1)
		assert.ErrorIs(t, err, ErrCovariance)
	})
}

func TestEllipsePoints(t *testing.T) {
	t.Parallel()
	e := Ellipse{CenterX: 1, CenterY: -1, SemiMajor: 2, SemiMinor: 1, Angle: math.Pi / 2}
	pts := e.Points(8)
	require.Len(t, pts, 9)
	assert.InDelta(t, 1, pts[0][0], 1e-12)
	assert.InDelta(t, 1, pts[0][1], 1e-12)
	assert.InDelta(t, pts[0][0], pts[8][0], 1e-12)
	assert.InDelta(t, pts[0][1], pts[8][1], 1e-12)
}
