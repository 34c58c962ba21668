package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnsembleConfig(seed uint64, workers int) EnsembleConfig {
	return EnsembleConfig{
		Geometry: RobotGeometry{WheelRadius: DefaultEnsembleWheelRadius, AxleLength: DefaultEnsembleAxleLength, Interval: DefaultInterval},
		Noise:    DefaultNoiseModel,
		Members:  DefaultEnsembleMembers,
		Seed:     seed,
		Workers:  workers,
	}
}

func runEnsemble(t *testing.T, cfg EnsembleConfig, ticks int, inc MotionIncrement) *Ensemble {
	t.Helper()
	e, err := NewEnsemble(cfg)
	require.NoError(t, err)
	for i := 0; i < ticks; i++ {
		require.NoError(t, e.Step(inc))
	}
	return e
}

var cruise = MotionIncrement{Rotation: 0.005, Translation: 0.03}

func TestEnsembleReferenceMemberIsNoiseless(t *testing.T) {
	t.Parallel()
	a := runEnsemble(t, testEnsembleConfig(1, 1), 50, cruise)
	b := runEnsemble(t, testEnsembleConfig(99, 1), 50, cruise)
	assert.Equal(t, a.Trajectory(0), b.Trajectory(0))
	assert.NotEqual(t, a.Trajectory(1), b.Trajectory(1))

	want := Pose{}
	for i := 0; i < 50; i++ {
		want = Advance(want, cruise)
	}
	ref := a.Trajectory(0)
	require.Len(t, ref, 51)
	assert.Equal(t, want, ref[50])
}

func TestEnsembleIndependentOfScheduling(t *testing.T) {
	t.Parallel()
	serial := runEnsemble(t, testEnsembleConfig(5, 1), 40, cruise)
	parallel := runEnsemble(t, testEnsembleConfig(5, 8), 40, cruise)
	for m := 0; m < serial.Members(); m++ {
		require.Equal(t, serial.Trajectory(m), parallel.Trajectory(m), "member %d", m)
	}
}

func TestEnsembleZeroNoiseCollapses(t *testing.T) {
	t.Parallel()
	cfg := testEnsembleConfig(3, 4)
	cfg.Noise = NoiseModel{}
	e := runEnsemble(t, cfg, 20, cruise)
	ref := e.Trajectory(0)
	for m := 1; m < e.Members(); m++ {
		for i, p := range e.Trajectory(m) {
			require.InDelta(t, ref[i].X, p.X, 1e-12, "member %d tick %d", m, i)
			require.InDelta(t, ref[i].Y, p.Y, 1e-12, "member %d tick %d", m, i)
			require.InDelta(t, ref[i].Yaw, p.Yaw, 1e-12, "member %d tick %d", m, i)
		}
	}
	spread, err := e.Spread(20)
	require.NoError(t, err)
	assert.InDelta(t, 0, spread.Cov[0][0], 1e-20)
	assert.InDelta(t, 0, spread.Cov[1][1], 1e-20)
}

func TestEnsembleTickBudget(t *testing.T) {
	t.Parallel()
	cfg := testEnsembleConfig(1, 1)
	cfg.TickLimit = 3
	e := runEnsemble(t, cfg, 3, cruise)
	assert.True(t, e.Exhausted())
	assert.ErrorIs(t, e.Step(cruise), ErrTickBudgetExhausted)
	assert.Equal(t, 3, e.Ticks())
	assert.Len(t, e.Trajectory(4), 4)

	e.Reset()
	assert.False(t, e.Exhausted())
	assert.NoError(t, e.Step(cruise))
}

func TestEnsembleSpreadGrows(t *testing.T) {
	t.Parallel()
	e := runEnsemble(t, testEnsembleConfig(11, 4), 200, cruise)
	trace := func(tick int) float64 {
		s, err := e.Spread(tick)
		require.NoError(t, err)
		return s.Cov[0][0] + s.Cov[1][1]
	}
	t0, t20, t80, t200 := trace(0), trace(20), trace(80), trace(200)
	assert.Equal(t, 0.0, t0)
	assert.Greater(t, t20, 0.0)
	assert.Greater(t, t80, t20)
	assert.Greater(t, t200, t80)

	s, err := e.Spread(200)
	require.NoError(t, err)
	el, err := s.Ellipse(1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, el.SemiMajor, el.SemiMinor)
	assert.Equal(t, e.Trajectory(0)[200], s.Reference)
}

func TestEnsembleYawStaysWrapped(t *testing.T) {
	t.Parallel()
	e := runEnsemble(t, testEnsembleConfig(2, 2), 300, MotionIncrement{Rotation: 0.2, Translation: 0.05})
	for m := 0; m < e.Members(); m++ {
		for _, p := range e.Trajectory(m) {
			require.True(t, p.Yaw > -math.Pi && p.Yaw <= math.Pi, "member %d yaw %v", m, p.Yaw)
		}
	}
}

func TestEnsembleMeanTrajectory(t *testing.T) {
	t.Parallel()
	e := runEnsemble(t, testEnsembleConfig(4, 1), 10, cruise)
	mean := e.MeanTrajectory()
	require.Len(t, mean, 11)

	poses, err := e.Positions(10)
	require.NoError(t, err)
	var sx float64
	for _, p := range poses[1:] {
		sx += p.X
	}
	assert.InDelta(t, sx/float64(len(poses)-1), mean[10].X, 1e-12)

	s, err := e.Spread(10)
	require.NoError(t, err)
	assert.InDelta(t, mean[10].X, s.MeanX, 1e-12)
	assert.InDelta(t, mean[10].Y, s.MeanY, 1e-12)

	_, err = e.Positions(11)
	assert.Error(t, err)
}

func TestEnsembleConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := testEnsembleConfig(1, 1)
	cfg.Members = 0
	_, err := NewEnsemble(cfg)
	assert.Error(t, err)

	cfg = testEnsembleConfig(1, 1)
	cfg.Noise.A2 = -1
	_, err = NewEnsemble(cfg)
	assert.Error(t, err)
}
