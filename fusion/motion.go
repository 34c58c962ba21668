package fusion

import (
	"fmt"
	"math"
)

// RobotGeometry describes a differential-drive base.
type RobotGeometry struct {
	WheelRadius float64 `json:"wheel_radius"`
	AxleLength  float64 `json:"axle_length"`
	// Interval is the fixed sampling period in seconds.
	Interval float64 `json:"interval"`
}

// MotionIncrement is the rotation/translation pair produced by one odometry tick.
// The pose moves by Translation along the heading yaw+Rotation and turns by
// 2·Rotation overall.
type MotionIncrement struct {
	Rotation    float64 `json:"rotation"`
	Translation float64 `json:"translation"`
}

func (g RobotGeometry) Validate() error {
	if !(g.WheelRadius > 0) || !(g.AxleLength > 0) || !(g.Interval > 0) {
		return fmt.Errorf("robot geometry must be positive: radius=%v axle=%v interval=%v",
			g.WheelRadius, g.AxleLength, g.Interval)
	}
	if !allFinite(g.WheelRadius, g.AxleLength, g.Interval) {
		return fmt.Errorf("robot geometry must be finite")
	}
	return nil
}

// Increment converts left/right wheel speeds (rad/s) held for dt seconds.
func (g RobotGeometry) Increment(omegaL, omegaR, dt float64) MotionIncrement {
	return MotionIncrement{
		Rotation:    dt * g.WheelRadius * (omegaR - omegaL) / (2 * g.AxleLength),
		Translation: dt * g.WheelRadius * (omegaR + omegaL) / 2,
	}
}

// Advance applies an increment without noise.
func Advance(p Pose, inc MotionIncrement) Pose {
	heading := p.Yaw + inc.Rotation
	return Pose{
		X:   p.X + inc.Translation*math.Cos(heading),
		Y:   p.Y + inc.Translation*math.Sin(heading),
		Yaw: WrapYaw(p.Yaw + inc.Rotation*2),
	}
}
