package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Association records how one measured range was matched to a landmark.
type Association struct {
	Measurement   int        `json:"measurement"`
	Landmark      int        `json:"landmark"`
	Range         float64    `json:"range"`
	Predicted     float64    `json:"predicted"`
	Innovation    float64    `json:"innovation"`
	InnovationVar float64    `json:"innovation_var"`
	Score         float64    `json:"score"`
	Scores        [3]float64 `json:"scores"`
}

// RangeModel is the range measurement model linearized once at a pose.
type RangeModel struct {
	landmarks [NumLandmarks]Landmark
	predicted [NumLandmarks]float64
	jacobians [NumLandmarks]*mat.VecDense
}

// NewRangeModel computes the predicted ranges zh_j and Jacobian rows H_j at p.
func NewRangeModel(p Pose, landmarks []Landmark) (*RangeModel, error) {
	if len(landmarks) != NumLandmarks {
		return nil, fmt.Errorf("%w: got %d", ErrLandmarkCount, len(landmarks))
	}
	m := &RangeModel{}
	for j, lm := range landmarks {
		dx, dy := p.X-lm.X, p.Y-lm.Y
		d := math.Sqrt(dx*dx + dy*dy)
		if !finite(d) || d < MinLandmarkDistance {
			return nil, fmt.Errorf("%w: landmark %d at range %v", ErrDegenerateGeometry, lm.ID, d)
		}
		m.landmarks[j] = lm
		m.predicted[j] = d
		m.jacobians[j] = mat.NewVecDense(3, []float64{dx / d, dy / d, 0})
	}
	return m, nil
}

func (m *RangeModel) Predicted() [NumLandmarks]float64 { return m.predicted }

// Jacobian returns the row H_j as a vector.
func (m *RangeModel) Jacobian(j int) mat.Vector { return m.jacobians[j] }

// Nearest scores measurement i with range z against every landmark and returns the
// association with the smallest Mahalanobis score. Ties keep the lowest index.
func (m *RangeModel) Nearest(i int, z float64, p mat.Symmetric, rangeVar [NumLandmarks]float64) (Association, error) {
	best := Association{Measurement: i, Range: z, Landmark: -1}
	for j := 0; j < NumLandmarks; j++ {
		h := m.jacobians[j]
		v := z - m.predicted[j]
		s := mat.Inner(h, p, h) + rangeVar[j]
		if !finite(s) || s <= 0 {
			return Association{}, fmt.Errorf("%w: S=%v for measurement %d landmark %d",
				ErrInnovationCovariance, s, i, m.landmarks[j].ID)
		}
		x := v * v / s
		best.Scores[j] = x
		if best.Landmark < 0 || x < best.Score {
			best.Landmark = j
			best.Predicted = m.predicted[j]
			best.Innovation = v
			best.InnovationVar = s
			best.Score = x
		}
	}
	return best, nil
}
