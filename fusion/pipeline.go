package fusion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pose-engine/monitoring"
)

// WheelSample is one odometry message: left/right wheel speeds at a stamp.
type WheelSample struct {
	Sec     int64   `json:"sec"`
	Nanosec uint32  `json:"nanosec"`
	Left    float64 `json:"left"`
	Right   float64 `json:"right"`
}

func (s WheelSample) Stamp() float64 { return stampSeconds(s.Sec, s.Nanosec) }

// RangeSample is one sensor message of unlabeled landmark ranges.
type RangeSample struct {
	Sec     int64     `json:"sec"`
	Nanosec uint32    `json:"nanosec"`
	Ranges  []float64 `json:"ranges"`
}

func (s RangeSample) Stamp() float64 { return stampSeconds(s.Sec, s.Nanosec) }

func stampSeconds(sec int64, nsec uint32) float64 {
	return float64(sec) + float64(nsec)/1e9
}

type EstimateKind string

const (
	KindPredict EstimateKind = "predict"
	KindUpdate  EstimateKind = "update"
)

// Estimate is the pose published after every processed sample.
type Estimate struct {
	RunID   string       `json:"run_id"`
	Kind    EstimateKind `json:"kind"`
	Tick    int          `json:"tick"`
	Elapsed float64      `json:"elapsed"`
	Pose    Pose         `json:"pose"`
	// Variance is the covariance diagonal (x, y, yaw).
	Variance    [3]float64 `json:"variance"`
	Mahalanobis [3]float64 `json:"mahalanobis,omitempty"`
}

// EnsembleView summarizes the ensemble for readers.
type EnsembleView struct {
	Ticks     int          `json:"ticks"`
	Members   int          `json:"members"`
	Exhausted bool         `json:"exhausted"`
	Reference []Pose       `json:"reference"`
	Mean      []Pose       `json:"mean"`
	Latest    *SpreadStats `json:"latest,omitempty"`
	Positions []Pose       `json:"positions"`
}

// Snapshot is a consistent copy of the pipeline state.
type Snapshot struct {
	RunID       string          `json:"run_id"`
	Landmarks   []Landmark      `json:"landmarks"`
	Predictions []PredictRecord `json:"predictions"`
	Updates     []UpdateRecord  `json:"updates"`
	Ensemble    *EnsembleView   `json:"ensemble,omitempty"`
	Halted      bool            `json:"halted"`
	Err         string          `json:"error,omitempty"`
}

// Pipeline turns timestamped wheel and range samples into EKF (and optional
// ensemble) updates. All methods are safe for concurrent use; readers only
// observe fully applied samples.
type Pipeline struct {
	mu sync.RWMutex

	runID    uuid.UUID
	ekf      *EKF
	ensemble *Ensemble
	geometry RobotGeometry
	ensGeom  RobotGeometry
	ekfUnit  SpeedUnit
	ensUnit  SpeedUnit

	originSet bool
	origin    float64
	lastWheel *float64
	lastRange *float64
	ensWarned bool
	err       error
}

func NewPipeline(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ekfCfg, err := cfg.EKFConfig()
	if err != nil {
		return nil, err
	}
	ekf, err := NewEKF(ekfCfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		runID:    uuid.New(),
		ekf:      ekf,
		geometry: ekfCfg.Geometry,
		ekfUnit:  cfg.GetEKFSpeedUnit(),
		ensUnit:  cfg.GetEnsembleSpeedUnit(),
	}
	if cfg.GetEnsembleEnabled() {
		ensCfg, err := cfg.EnsembleConfig()
		if err != nil {
			return nil, err
		}
		if p.ensemble, err = NewEnsemble(ensCfg); err != nil {
			return nil, err
		}
		p.ensGeom = ensCfg.Geometry
	}
	return p, nil
}

func (p *Pipeline) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID.String()
}

// Err returns the latched fatal error, if any.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Reset discards the run and starts a new one from the initial state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ekf.Reset()
	if p.ensemble != nil {
		p.ensemble.Reset()
	}
	p.runID = uuid.New()
	p.originSet = false
	p.lastWheel, p.lastRange = nil, nil
	p.ensWarned = false
	p.err = nil
	monitoring.Logf("pipeline: new run %s", p.runID)
}

func (p *Pipeline) fail(err error) error {
	p.err = err
	monitoring.Logf("pipeline %s halted: %v", p.runID, err)
	return err
}

func (p *Pipeline) elapsed(stamp float64) float64 {
	if !p.originSet {
		p.origin, p.originSet = stamp, true
	}
	return stamp - p.origin
}

// HandleWheel predicts the EKF with one odometry sample and steps the ensemble.
func (p *Pipeline) HandleWheel(s WheelSample) (Estimate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Estimate{}, &haltedError{cause: p.err}
	}
	tick := len(p.ekf.predictions)
	if !allFinite(s.Left, s.Right) {
		return Estimate{}, p.fail(&PreconditionError{Op: "wheel", Tick: tick,
			Err: fmt.Errorf("%w: speeds %v/%v", ErrInvalidSample, s.Left, s.Right)})
	}

	stamp := s.Stamp()
	dt := p.geometry.Interval
	if p.lastWheel != nil {
		if stamp < *p.lastWheel {
			return Estimate{}, p.fail(&PreconditionError{Op: "wheel", Tick: tick,
				Err: fmt.Errorf("%w: %.9f < %.9f", ErrNonMonotonicTimestamp, stamp, *p.lastWheel)})
		}
		dt = roundTo(stamp-*p.lastWheel, stampScale)
	} else if !p.originSet {
		// First odometry tick covers one interval ending at its stamp.
		p.origin, p.originSet = stamp-dt, true
	}
	p.lastWheel = &stamp

	left, right := p.ekfUnit.ToRadPerSec(s.Left), p.ekfUnit.ToRadPerSec(s.Right)
	rec, err := p.ekf.Predict(OdometryStep{
		Elapsed:   p.elapsed(stamp),
		Dt:        dt,
		Left:      s.Left,
		Right:     s.Right,
		Increment: p.geometry.Increment(left, right, dt),
	})
	if err != nil {
		return Estimate{}, p.fail(err)
	}

	if p.ensemble != nil {
		el, er := p.ensUnit.ToRadPerSec(s.Left), p.ensUnit.ToRadPerSec(s.Right)
		inc := p.ensGeom.Increment(el, er, p.ensGeom.Interval)
		if err := p.ensemble.Step(inc); err != nil {
			if !errors.Is(err, ErrTickBudgetExhausted) {
				return Estimate{}, p.fail(&PreconditionError{Op: "ensemble", Tick: tick, Err: err})
			}
			if !p.ensWarned {
				monitoring.Logf("pipeline %s: ensemble stopped after %d ticks", p.runID, p.ensemble.Ticks())
				p.ensWarned = true
			}
		}
	}

	return Estimate{
		RunID:    p.runID.String(),
		Kind:     KindPredict,
		Tick:     rec.Tick,
		Elapsed:  rec.Elapsed,
		Pose:     rec.Pose,
		Variance: rec.Cov.Diag(),
	}, nil
}

// HandleRange corrects the EKF with one sensor sample.
func (p *Pipeline) HandleRange(s RangeSample) (Estimate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Estimate{}, &haltedError{cause: p.err}
	}
	stamp := s.Stamp()
	if p.lastRange != nil && stamp < *p.lastRange {
		return Estimate{}, p.fail(&PreconditionError{Op: "range", Tick: len(p.ekf.updates),
			Err: fmt.Errorf("%w: %.9f < %.9f", ErrNonMonotonicTimestamp, stamp, *p.lastRange)})
	}
	p.lastRange = &stamp

	rec, err := p.ekf.Correct(RangeStep{Elapsed: p.elapsed(stamp), Ranges: s.Ranges})
	if err != nil {
		return Estimate{}, p.fail(err)
	}
	return Estimate{
		RunID:       p.runID.String(),
		Kind:        KindUpdate,
		Tick:        rec.Tick,
		Elapsed:     rec.Elapsed,
		Pose:        rec.Pose,
		Variance:    rec.Cov.Diag(),
		Mahalanobis: rec.Mahalanobis,
	}, nil
}

// Snapshot copies the current histories.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := Snapshot{
		RunID:       p.runID.String(),
		Landmarks:   p.ekf.Landmarks(),
		Predictions: p.ekf.Predictions(),
		Updates:     p.ekf.Updates(),
		Halted:      p.err != nil,
	}
	if p.err != nil {
		snap.Err = p.err.Error()
	}
	if e := p.ensemble; e != nil {
		view := &EnsembleView{
			Ticks:     e.Ticks(),
			Members:   e.Members(),
			Exhausted: e.Exhausted(),
			Reference: e.Trajectory(0),
			Mean:      e.MeanTrajectory(),
		}
		view.Positions, _ = e.Positions(e.Ticks())
		if spread, err := e.Spread(e.Ticks()); err == nil {
			view.Latest = &spread
		}
		snap.Ensemble = view
	}
	return snap
}
