package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose is a planar robot pose in metres and radians.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Landmark is a fixed, known range beacon.
type Landmark struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// WrapYaw maps a finite angle into (-π, π]. Angles already in range are returned as-is.
func WrapYaw(yaw float64) float64 {
	if yaw > -math.Pi && yaw <= math.Pi {
		return yaw
	}
	w := math.Mod(yaw+math.Pi, 2*math.Pi)
	if w <= 0 {
		w += 2 * math.Pi
	}
	r := w - math.Pi
	if r <= -math.Pi {
		r = math.Pi
	}
	return r
}

// RPMToRadPerSec converts a wheel speed in revolutions per minute.
func RPMToRadPerSec(rpm float64) float64 {
	return rpm * math.Pi / 30
}

// Pow2 squares x.
func Pow2(x float64) float64 { return x * x }

func roundTo(v float64, scale float64) float64 {
	return math.Round(v*scale) / scale
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vals ...float64) bool {
	for _, v := range vals {
		if !finite(v) {
			return false
		}
	}
	return true
}

func (p Pose) finite() bool { return allFinite(p.X, p.Y, p.Yaw) }

func (p Pose) vec() *mat.VecDense {
	return mat.NewVecDense(3, []float64{p.X, p.Y, p.Yaw})
}

func copySym(m mat.Symmetric) *mat.SymDense {
	c := mat.NewSymDense(m.SymmetricDim(), nil)
	c.CopySym(m)
	return c
}

func diagonal(m mat.Symmetric) [3]float64 {
	return [3]float64{m.At(0, 0), m.At(1, 1), m.At(2, 2)}
}
