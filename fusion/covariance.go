package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Symmetrize returns 0.5·(m + mᵗ) for a square matrix.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// CheckCovariance rejects covariances with non-finite entries or negative variances.
func CheckCovariance(p mat.Symmetric) error {
	n := p.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if !finite(p.At(i, j)) {
				return fmt.Errorf("%w: entry (%d,%d) = %v", ErrCovariance, i, j, p.At(i, j))
			}
		}
		if p.At(i, i) < 0 {
			return fmt.Errorf("%w: variance %d = %v", ErrCovariance, i, p.At(i, i))
		}
	}
	return nil
}

// Ellipse is a confidence region in the plane.
type Ellipse struct {
	CenterX   float64 `json:"cx"`
	CenterY   float64 `json:"cy"`
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	// Angle of the major axis from +x, radians.
	Angle float64 `json:"angle"`
}

// ConfidenceEllipse builds the nSigma ellipse of the top-left 2×2 block of cov.
func ConfidenceEllipse(cov mat.Symmetric, cx, cy, nSigma float64) (Ellipse, error) {
	if cov.SymmetricDim() < 2 {
		return Ellipse{}, fmt.Errorf("confidence ellipse needs a 2x2 covariance")
	}
	xy := mat.NewSymDense(2, []float64{
		cov.At(0, 0), cov.At(0, 1),
		cov.At(1, 0), cov.At(1, 1),
	})
	if err := CheckCovariance(xy); err != nil {
		return Ellipse{}, err
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(xy, true); !ok {
		return Ellipse{}, fmt.Errorf("eigen decomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending.
	major, minor := math.Max(vals[1], 0), math.Max(vals[0], 0)
	return Ellipse{
		CenterX:   cx,
		CenterY:   cy,
		SemiMajor: nSigma * math.Sqrt(major),
		SemiMinor: nSigma * math.Sqrt(minor),
		Angle:     math.Atan2(vecs.At(1, 1), vecs.At(0, 1)),
	}, nil
}

// Points samples n points along the ellipse outline, closing the loop.
func (e Ellipse) Points(n int) [][2]float64 {
	if n < 3 {
		n = 3
	}
	sin, cos := math.Sincos(e.Angle)
	pts := make([][2]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		a, b := e.SemiMajor*math.Cos(t), e.SemiMinor*math.Sin(t)
		pts = append(pts, [2]float64{
			e.CenterX + a*cos - b*sin,
			e.CenterY + a*sin + b*cos,
		})
	}
	return pts
}
