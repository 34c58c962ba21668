package fusion

// Ensemble node defaults. Wheel speeds arrive in rpm.
const (
	DefaultEnsembleWheelRadius = 0.1
	DefaultEnsembleAxleLength  = 0.4
	DefaultInterval            = 0.1
	DefaultEnsembleMembers     = 100
	DefaultEnsembleTickLimit   = 2216
	DefaultEnsembleSeed        = 1
)

// EKF node defaults. Wheel speeds arrive in rad/s.
const (
	DefaultEKFWheelRadius  = 0.12
	DefaultEKFAxleLength   = 0.44
	DefaultInitialVariance = 0.1
	DefaultRangeVariance   = 0.000025
)

const (
	NumLandmarks = 3

	// MinLandmarkDistance is the smallest predicted range for which the
	// range Jacobian is considered defined.
	MinLandmarkDistance = 1e-9

	// stampScale rounds odometry Δt to 1e-4 s.
	stampScale = 1e4
)

// DefaultNoiseModel holds the ensemble's odometry noise coefficients.
var DefaultNoiseModel = NoiseModel{A1: 20, A2: 6, A3: 25, A4: 8}

// DefaultProcessNoise is the diagonal of M, ordered like the columns of the
// control Jacobian: translation, first rotation, second rotation.
var DefaultProcessNoise = [3]float64{0.001, 0.0002, 0.0002}

var DefaultLandmarks = []Landmark{
	{ID: 0, X: 7.5, Y: -4.0},
	{ID: 1, X: -5.0, Y: 8.0},
	{ID: 2, X: -7.0, Y: -6.5},
}

type SpeedUnit string

const (
	RadPerSec SpeedUnit = "rad/s"
	RPM       SpeedUnit = "rpm"
)

// ToRadPerSec converts a wheel speed given in u.
func (u SpeedUnit) ToRadPerSec(v float64) float64 {
	if u == RPM {
		return RPMToRadPerSec(v)
	}
	return v
}

func (u SpeedUnit) valid() bool { return u == RadPerSec || u == RPM }
