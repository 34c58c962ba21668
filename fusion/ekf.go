package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cov3 is a value copy of a 3×3 covariance kept in histories.
type Cov3 [3][3]float64

func covFrom(m mat.Symmetric) Cov3 {
	var c Cov3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i][j] = m.At(i, j)
		}
	}
	return c
}

// Sym returns the covariance as a gonum matrix.
func (c Cov3) Sym() *mat.SymDense {
	s := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			s.SetSym(i, j, c[i][j])
		}
	}
	return s
}

func (c Cov3) Diag() [3]float64 { return [3]float64{c[0][0], c[1][1], c[2][2]} }

// OdometryStep is one odometry tick handed to the predictor.
type OdometryStep struct {
	Elapsed   float64
	Dt        float64
	Left      float64
	Right     float64
	Increment MotionIncrement
}

// RangeStep is one sensor tick handed to the corrector.
type RangeStep struct {
	Elapsed float64
	Ranges  []float64
}

// PredictRecord is the EKF state after an odometry tick. Record 0 is the initial state.
type PredictRecord struct {
	Tick      int             `json:"tick"`
	Elapsed   float64         `json:"elapsed"`
	Dt        float64         `json:"dt"`
	Left      float64         `json:"left"`
	Right     float64         `json:"right"`
	Increment MotionIncrement `json:"increment"`
	Pose      Pose            `json:"pose"`
	Cov       Cov3            `json:"cov"`
}

// UpdateRecord is the EKF state after a sensor tick. Record 0 is the initial state.
type UpdateRecord struct {
	Tick         int           `json:"tick"`
	Elapsed      float64       `json:"elapsed"`
	Pose         Pose          `json:"pose"`
	Cov          Cov3          `json:"cov"`
	Predicted    [3]float64    `json:"predicted"`
	Measured     [3]float64    `json:"measured"`
	Mahalanobis  [3]float64    `json:"mahalanobis"`
	Associations []Association `json:"associations,omitempty"`
}

type EKFConfig struct {
	Geometry  RobotGeometry
	Landmarks []Landmark
	// ProcessNoise is the diagonal of M.
	ProcessNoise [3]float64
	// RangeVariance is the diagonal of R, one entry per landmark.
	RangeVariance   [3]float64
	Initial         Pose
	InitialVariance float64
}

func (c EKFConfig) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if len(c.Landmarks) != NumLandmarks {
		return fmt.Errorf("%w: got %d", ErrLandmarkCount, len(c.Landmarks))
	}
	for _, lm := range c.Landmarks {
		if !allFinite(lm.X, lm.Y) {
			return fmt.Errorf("landmark %d position not finite", lm.ID)
		}
	}
	for i := 0; i < 3; i++ {
		if !finite(c.ProcessNoise[i]) || c.ProcessNoise[i] < 0 {
			return fmt.Errorf("process noise %d must be finite and nonnegative", i)
		}
		if !finite(c.RangeVariance[i]) || c.RangeVariance[i] <= 0 {
			return fmt.Errorf("range variance %d must be finite and positive", i)
		}
	}
	if !finite(c.InitialVariance) || c.InitialVariance < 0 {
		return fmt.Errorf("initial variance must be finite and nonnegative")
	}
	if !c.Initial.finite() {
		return fmt.Errorf("initial pose not finite")
	}
	return nil
}

// EKF estimates the pose from odometry predictions and range corrections.
// It is not safe for concurrent use; Pipeline serializes access.
type EKF struct {
	cfg   EKFConfig
	noise *mat.SymDense

	x Pose
	P *mat.SymDense

	predictions []PredictRecord
	updates     []UpdateRecord
	err         error
}

func NewEKF(cfg EKFConfig) (*EKF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Landmarks = append([]Landmark(nil), cfg.Landmarks...)
	if _, err := NewRangeModel(cfg.Initial, cfg.Landmarks); err != nil {
		return nil, err
	}
	k := &EKF{
		cfg: cfg,
		noise: mat.NewSymDense(3, []float64{
			cfg.ProcessNoise[0], 0, 0,
			0, cfg.ProcessNoise[1], 0,
			0, 0, cfg.ProcessNoise[2],
		}),
	}
	k.Reset()
	return k, nil
}

// Reset restores the initial state, clears histories and the halt latch.
func (k *EKF) Reset() {
	v := k.cfg.InitialVariance
	k.x = Pose{X: k.cfg.Initial.X, Y: k.cfg.Initial.Y, Yaw: WrapYaw(k.cfg.Initial.Yaw)}
	k.P = mat.NewSymDense(3, []float64{v, 0, 0, 0, v, 0, 0, 0, v})
	k.err = nil

	// Validated in NewEKF.
	model, _ := NewRangeModel(k.x, k.cfg.Landmarks)
	cov := covFrom(k.P)
	k.predictions = []PredictRecord{{Pose: k.x, Cov: cov}}
	k.updates = []UpdateRecord{{
		Pose:      k.x,
		Cov:       cov,
		Predicted: model.Predicted(),
		Measured:  model.Predicted(),
	}}
}

func (k *EKF) State() (Pose, *mat.SymDense) { return k.x, copySym(k.P) }

func (k *EKF) Landmarks() []Landmark { return append([]Landmark(nil), k.cfg.Landmarks...) }

// Err returns the latched fatal error, if any.
func (k *EKF) Err() error { return k.err }

func (k *EKF) Predictions() []PredictRecord {
	return append([]PredictRecord(nil), k.predictions...)
}

func (k *EKF) Updates() []UpdateRecord {
	out := make([]UpdateRecord, len(k.updates))
	for i, u := range k.updates {
		u.Associations = append([]Association(nil), u.Associations...)
		out[i] = u
	}
	return out
}

func (k *EKF) halt(op string, tick int, err error) error {
	k.err = &PreconditionError{Op: op, Tick: tick, Err: err}
	return k.err
}

// PredictState propagates a pose and covariance through one motion increment:
// P' = A·P·Aᵗ + L·M·Lᵗ, symmetrized.
func PredictState(x Pose, p mat.Symmetric, inc MotionIncrement, m mat.Symmetric) (Pose, *mat.SymDense) {
	heading := x.Yaw + inc.Rotation
	sin, cos := math.Sin(heading), math.Cos(heading)
	t := inc.Translation

	a := mat.NewDense(3, 3, []float64{
		1, 0, -t * sin,
		0, 1, t * cos,
		0, 0, 1,
	})
	l := mat.NewDense(3, 3, []float64{
		cos, -t * sin, 0,
		sin, t * cos, 0,
		0, 1, 1,
	})

	var ap, apa, lm, lml, sum mat.Dense
	ap.Mul(a, p)
	apa.Mul(&ap, a.T())
	lm.Mul(l, m)
	lml.Mul(&lm, l.T())
	sum.Add(&apa, &lml)

	return Advance(x, inc), Symmetrize(&sum)
}

// Predict applies one odometry tick.
func (k *EKF) Predict(step OdometryStep) (PredictRecord, error) {
	if k.err != nil {
		return PredictRecord{}, &haltedError{cause: k.err}
	}
	tick := len(k.predictions)
	inc := step.Increment
	if !allFinite(inc.Rotation, inc.Translation, step.Dt) {
		return PredictRecord{}, k.halt("predict", tick, fmt.Errorf("%w: increment %+v", ErrInvalidSample, inc))
	}

	x, p := PredictState(k.x, k.P, inc, k.noise)
	if !x.finite() {
		return PredictRecord{}, k.halt("predict", tick, fmt.Errorf("%w: pose %+v", ErrInvalidSample, x))
	}
	if err := CheckCovariance(p); err != nil {
		return PredictRecord{}, k.halt("predict", tick, err)
	}

	k.x, k.P = x, p
	rec := PredictRecord{
		Tick:      tick,
		Elapsed:   step.Elapsed,
		Dt:        step.Dt,
		Left:      step.Left,
		Right:     step.Right,
		Increment: inc,
		Pose:      x,
		Cov:       covFrom(p),
	}
	k.predictions = append(k.predictions, rec)
	return rec, nil
}

// applyRangeUpdate folds one scalar innovation with Jacobian row h and innovation
// variance s into p. It returns the new covariance and the gain K = P·hᵗ/s.
func applyRangeUpdate(p mat.Symmetric, h mat.Vector, s float64) (*mat.SymDense, *mat.VecDense) {
	var ph mat.VecDense
	ph.MulVec(p, h)
	gain := mat.NewVecDense(3, nil)
	for r := 0; r < 3; r++ {
		gain.SetVec(r, ph.AtVec(r)/s)
	}

	var kh, ikh, next mat.Dense
	kh.Outer(1, gain, h)
	ikh.Sub(mat.NewDiagDense(3, []float64{1, 1, 1}), &kh)
	next.Mul(&ikh, p)
	return Symmetrize(&next), gain
}

// Correct applies one sensor tick of three unlabeled ranges. The range model is
// linearized once at the predicted pose; each measurement is then associated
// against the current covariance and folded in sequentially.
func (k *EKF) Correct(step RangeStep) (UpdateRecord, error) {
	if k.err != nil {
		return UpdateRecord{}, &haltedError{cause: k.err}
	}
	tick := len(k.updates)
	if len(step.Ranges) != NumLandmarks {
		return UpdateRecord{}, k.halt("correct", tick, fmt.Errorf("%w: got %d", ErrMeasurementCount, len(step.Ranges)))
	}
	for i, z := range step.Ranges {
		if !finite(z) || z < 0 {
			return UpdateRecord{}, k.halt("correct", tick, fmt.Errorf("%w: range %d = %v", ErrInvalidSample, i, z))
		}
	}

	model, err := NewRangeModel(k.x, k.cfg.Landmarks)
	if err != nil {
		return UpdateRecord{}, k.halt("correct", tick, err)
	}

	rec := UpdateRecord{
		Tick:         tick,
		Elapsed:      step.Elapsed,
		Predicted:    model.Predicted(),
		Associations: make([]Association, 0, NumLandmarks),
	}
	state := k.x.vec()
	var p mat.Symmetric = k.P
	held, hasHeld := 0.0, false

	for i, z := range step.Ranges {
		a, err := model.Nearest(i, z, p, k.cfg.RangeVariance)
		if err != nil {
			return UpdateRecord{}, k.halt("correct", tick, err)
		}
		next, gain := applyRangeUpdate(p, model.Jacobian(a.Landmark), a.InnovationVar)
		p = next
		state.AddScaledVec(state, a.Innovation, gain)

		j := a.Landmark
		rec.Mahalanobis[j] = a.Score
		if rec.Measured[j] == 0 {
			rec.Measured[j] = z
		} else {
			held, hasHeld = z, true
		}
		rec.Associations = append(rec.Associations, a)
	}
	if hasHeld {
		for j := range rec.Measured {
			if rec.Measured[j] == 0 {
				rec.Measured[j] = held
				break
			}
		}
	}

	x := Pose{X: state.AtVec(0), Y: state.AtVec(1), Yaw: WrapYaw(state.AtVec(2))}
	if !x.finite() {
		return UpdateRecord{}, k.halt("correct", tick, fmt.Errorf("%w: pose %+v", ErrInvalidSample, x))
	}
	if err := CheckCovariance(p); err != nil {
		return UpdateRecord{}, k.halt("correct", tick, err)
	}

	k.x, k.P = x, copySym(p)
	rec.Pose = x
	rec.Cov = covFrom(p)
	k.updates = append(k.updates, rec)
	return rec, nil
}
