package fusion

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseModel holds the odometry error coefficients a1..a4.
type NoiseModel struct {
	A1 float64 `json:"a1"`
	A2 float64 `json:"a2"`
	A3 float64 `json:"a3"`
	A4 float64 `json:"a4"`
}

func (n NoiseModel) Validate() error {
	for i, a := range []float64{n.A1, n.A2, n.A3, n.A4} {
		if !finite(a) || a < 0 {
			return fmt.Errorf("noise coefficient a%d must be finite and nonnegative, got %v", i+1, a)
		}
	}
	return nil
}

// Spread returns the rotation and translation spreads for an increment. They are
// used as the standard deviation of the sampled perturbations.
func (n NoiseModel) Spread(inc MotionIncrement) (rot, trans float64) {
	rot = n.A1*Pow2(inc.Rotation) + n.A2*Pow2(inc.Translation)
	trans = n.A3*Pow2(inc.Translation) + n.A4*2*Pow2(inc.Rotation)
	return rot, trans
}

// NoisyIncrement is one perturbed draw of a MotionIncrement.
type NoisyIncrement struct {
	Rot1  float64
	Rot2  float64
	Trans float64
}

// AdvanceNoisy applies a perturbed increment: move along yaw+Rot1, then turn by Rot1+Rot2.
func AdvanceNoisy(p Pose, d NoisyIncrement) Pose {
	heading := p.Yaw + d.Rot1
	return Pose{
		X:   p.X + d.Trans*math.Cos(heading),
		Y:   p.Y + d.Trans*math.Sin(heading),
		Yaw: WrapYaw(p.Yaw + d.Rot1 + d.Rot2),
	}
}

// NoiseSampler draws perturbed increments from an injected random source.
// A sampler is not safe for concurrent use; give each goroutine its own.
type NoiseSampler struct {
	model NoiseModel
	src   rand.Source
}

func NewNoiseSampler(model NoiseModel, src rand.Source) *NoiseSampler {
	return &NoiseSampler{model: model, src: src}
}

// Sample draws rot1, rot2 ~ N(rot, ε_rot) and trans ~ N(trans, ε_trans).
// A zero spread yields the unperturbed value.
func (s *NoiseSampler) Sample(inc MotionIncrement) NoisyIncrement {
	epsRot, epsTrans := s.model.Spread(inc)
	rot := distuv.Normal{Mu: inc.Rotation, Sigma: epsRot, Src: s.src}
	trans := distuv.Normal{Mu: inc.Translation, Sigma: epsTrans, Src: s.src}
	return NoisyIncrement{
		Rot1:  rot.Rand(),
		Rot2:  rot.Rand(),
		Trans: trans.Rand(),
	}
}
