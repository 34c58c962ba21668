package fusion

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestNoiseSpread(t *testing.T) {
	t.Parallel()
	n := NoiseModel{A1: 20, A2: 6, A3: 25, A4: 8}
	rot, trans := n.Spread(MotionIncrement{Rotation: 0.1, Translation: 0.2})
	assert.InDelta(t, 20*0.01+6*0.04, rot, 1e-12)
	assert.InDelta(t, 25*0.04+8*2*0.01, trans, 1e-12)

	rot, trans = n.Spread(MotionIncrement{})
	assert.Equal(t, 0.0, rot)
	assert.Equal(t, 0.0, trans)
}

func TestNoiseModelValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultNoiseModel.Validate())
	assert.Error(t, NoiseModel{A1: -1}.Validate())
	assert.Error(t, NoiseModel{A3: math.NaN()}.Validate())
}

func TestNoiseSamplerZeroSpread(t *testing.T) {
	t.Parallel()
	s := NewNoiseSampler(NoiseModel{}, rand.NewPCG(1, 2))
	inc := MotionIncrement{Rotation: 0.03, Translation: 0.4}
	d := s.Sample(inc)
	assert.Equal(t, NoisyIncrement{Rot1: 0.03, Rot2: 0.03, Trans: 0.4}, d)
}

func TestNoiseSamplerReproducible(t *testing.T) {
	t.Parallel()
	inc := MotionIncrement{Rotation: 0.02, Translation: 0.05}
	a := NewNoiseSampler(DefaultNoiseModel, rand.NewPCG(7, 3))
	b := NewNoiseSampler(DefaultNoiseModel, rand.NewPCG(7, 3))
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Sample(inc), b.Sample(inc))
	}
}

func TestNoiseSamplerMoments(t *testing.T) {
	t.Parallel()
	model := NoiseModel{A1: 20, A2: 6, A3: 25, A4: 8}
	inc := MotionIncrement{Rotation: 0.1, Translation: 0.2}
	epsRot, epsTrans := model.Spread(inc)

	s := NewNoiseSampler(model, rand.NewPCG(42, 0))
	const n = 20000
	rot1 := make([]float64, n)
	trans := make([]float64, n)
	for i := range rot1 {
		d := s.Sample(inc)
		rot1[i], trans[i] = d.Rot1, d.Trans
	}
	mean, std := stat.MeanStdDev(rot1, nil)
	assert.InDelta(t, inc.Rotation, mean, 0.02)
	assert.InDelta(t, epsRot, std, 0.02)

	mean, std = stat.MeanStdDev(trans, nil)
	assert.InDelta(t, inc.Translation, mean, 0.05)
	assert.InDelta(t, epsTrans, std, 0.05)
}

func TestAdvanceNoisy(t *testing.T) {
	t.Parallel()
	p := AdvanceNoisy(Pose{Yaw: 3}, NoisyIncrement{Rot1: 0.1, Rot2: 0.2, Trans: 1})
	assert.InDelta(t, math.Cos(3.1), p.X, 1e-12)
	assert.InDelta(t, math.Sin(3.1), p.Y, 1e-12)
	assert.InDelta(t, 3.3-2*math.Pi, p.Yaw, 1e-12)
}
