package server

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"pose-engine/fusion"
)

// Scenario describes a synthetic differential-drive run.
type Scenario struct {
	Geometry  fusion.RobotGeometry
	Unit      fusion.SpeedUnit
	Landmarks []fusion.Landmark
	Start     fusion.Pose
	// Ticks is the number of wheel samples.
	Ticks int
	// Left and Right are the base wheel speeds in Unit.
	Left, Right float64
	// Weave adds Weave·sin(2π·t/Period) to the right wheel.
	Weave, Period float64
	// RangeEvery emits a range sample after every RangeEvery wheel samples;
	// zero disables ranges.
	RangeEvery int
	// RangeSigma is the standard deviation of range noise.
	RangeSigma float64
	// StartSec is the stamp of the first wheel sample.
	StartSec int64
	Seed     uint64
}

// Synthesize drives the noiseless motion model through the scenario and
// returns the samples a robot would emit, plus the true pose at each wheel
// sample (index 0 is Start).
func Synthesize(sc Scenario) ([]Sample, []fusion.Pose, error) {
	if err := sc.Geometry.Validate(); err != nil {
		return nil, nil, err
	}
	if sc.Ticks < 0 {
		return nil, nil, fmt.Errorf("negative tick count %d", sc.Ticks)
	}
	if sc.RangeEvery > 0 && len(sc.Landmarks) != fusion.NumLandmarks {
		return nil, nil, fmt.Errorf("%w: got %d", fusion.ErrLandmarkCount, len(sc.Landmarks))
	}
	unit := sc.Unit
	if unit == "" {
		unit = fusion.RadPerSec
	}
	noise := distuv.Normal{Mu: 0, Sigma: sc.RangeSigma, Src: rand.NewPCG(sc.Seed, 0)}

	dtNanos := int64(math.Round(sc.Geometry.Interval * 1e9))
	base := sc.StartSec * 1e9

	samples := make([]Sample, 0, sc.Ticks+sc.Ticks/max(sc.RangeEvery, 1))
	truth := make([]fusion.Pose, 1, sc.Ticks+1)
	truth[0] = sc.Start
	pose := sc.Start
	for i := 0; i < sc.Ticks; i++ {
		stamp := base + int64(i)*dtNanos
		sec, nsec := stamp/1e9, uint32(stamp%1e9)
		left, right := sc.Left, sc.Right
		if sc.Period > 0 {
			right += sc.Weave * math.Sin(2*math.Pi*float64(i)*sc.Geometry.Interval/sc.Period)
		}
		samples = append(samples, WheelOf(fusion.WheelSample{Sec: sec, Nanosec: nsec, Left: left, Right: right}))

		inc := sc.Geometry.Increment(unit.ToRadPerSec(left), unit.ToRadPerSec(right), sc.Geometry.Interval)
		pose = fusion.Advance(pose, inc)
		truth = append(truth, pose)

		if sc.RangeEvery > 0 && (i+1)%sc.RangeEvery == 0 {
			ranges := make([]float64, len(sc.Landmarks))
			for j, lm := range sc.Landmarks {
				d := math.Hypot(lm.X-pose.X, lm.Y-pose.Y)
				if sc.RangeSigma > 0 {
					d += noise.Rand()
				}
				ranges[j] = math.Max(d, 0)
			}
			samples = append(samples, RangeOf(fusion.RangeSample{Sec: sec, Nanosec: nsec, Ranges: ranges}))
		}
	}
	return samples, truth, nil
}
