package fusion

import (
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type EnsembleConfig struct {
	Geometry RobotGeometry
	Noise    NoiseModel
	// Members is the number of noisy members; member 0 is added on top.
	Members int
	// TickLimit bounds the number of ticks; 0 means unbounded.
	TickLimit int
	Seed      uint64
	// Workers caps parallel member stepping; values below 2 step inline.
	Workers int
	Initial Pose
}

func (c EnsembleConfig) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if err := c.Noise.Validate(); err != nil {
		return err
	}
	if c.Members < 1 {
		return fmt.Errorf("ensemble needs at least one noisy member, got %d", c.Members)
	}
	if c.TickLimit < 0 {
		return fmt.Errorf("tick limit must be nonnegative, got %d", c.TickLimit)
	}
	if !c.Initial.finite() {
		return fmt.Errorf("initial pose not finite")
	}
	return nil
}

// Ensemble propagates a noiseless reference trajectory (member 0) and a set of
// noisy members that all share the same wheel commands.
type Ensemble struct {
	cfg          EnsembleConfig
	trajectories [][]Pose
	samplers     []*NoiseSampler
	ticks        int
}

func NewEnsemble(cfg EnsembleConfig) (*Ensemble, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Ensemble{cfg: cfg}
	e.Reset()
	return e, nil
}

// Reset rewinds every member to the initial pose and reseeds the samplers.
func (e *Ensemble) Reset() {
	n := e.cfg.Members + 1
	capacity := e.cfg.TickLimit + 1
	if e.cfg.TickLimit == 0 {
		capacity = 64
	}
	start := Pose{X: e.cfg.Initial.X, Y: e.cfg.Initial.Y, Yaw: WrapYaw(e.cfg.Initial.Yaw)}

	e.trajectories = make([][]Pose, n)
	e.samplers = make([]*NoiseSampler, n)
	for m := range e.trajectories {
		e.trajectories[m] = make([]Pose, 1, capacity)
		e.trajectories[m][0] = start
		if m > 0 {
			e.samplers[m] = NewNoiseSampler(e.cfg.Noise, rand.NewPCG(e.cfg.Seed, uint64(m)))
		}
	}
	e.ticks = 0
}

// Step advances every member by one tick of the given increment.
func (e *Ensemble) Step(inc MotionIncrement) error {
	if e.cfg.TickLimit > 0 && e.ticks >= e.cfg.TickLimit {
		return ErrTickBudgetExhausted
	}
	if !allFinite(inc.Rotation, inc.Translation) {
		return fmt.Errorf("%w: increment %+v", ErrInvalidSample, inc)
	}

	n := len(e.trajectories)
	workers := e.cfg.Workers
	if workers < 2 {
		e.stepRange(0, n, inc)
	} else {
		chunk := (n + workers - 1) / workers
		var g errgroup.Group
		g.SetLimit(workers)
		for start := 0; start < n; start += chunk {
			end := min(start+chunk, n)
			g.Go(func() error {
				e.stepRange(start, end, inc)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	e.ticks++
	return nil
}

func (e *Ensemble) stepRange(start, end int, inc MotionIncrement) {
	for m := start; m < end; m++ {
		traj := e.trajectories[m]
		last := traj[len(traj)-1]
		var next Pose
		if m == 0 {
			next = Advance(last, inc)
		} else {
			next = AdvanceNoisy(last, e.samplers[m].Sample(inc))
		}
		e.trajectories[m] = append(traj, next)
	}
}

func (e *Ensemble) Ticks() int { return e.ticks }

// Members returns the member count including the reference member 0.
func (e *Ensemble) Members() int { return len(e.trajectories) }

func (e *Ensemble) Exhausted() bool {
	return e.cfg.TickLimit > 0 && e.ticks >= e.cfg.TickLimit
}

func (e *Ensemble) Trajectory(member int) []Pose {
	if member < 0 || member >= len(e.trajectories) {
		return nil
	}
	return append([]Pose(nil), e.trajectories[member]...)
}

// Positions returns every member's pose at a tick, member 0 first.
func (e *Ensemble) Positions(tick int) ([]Pose, error) {
	if tick < 0 || tick > e.ticks {
		return nil, fmt.Errorf("tick %d outside [0, %d]", tick, e.ticks)
	}
	out := make([]Pose, len(e.trajectories))
	for m, traj := range e.trajectories {
		out[m] = traj[tick]
	}
	return out, nil
}

// SpreadStats summarizes the ensemble at one tick.
type SpreadStats struct {
	Tick      int           `json:"tick"`
	Reference Pose          `json:"reference"`
	MeanX     float64       `json:"mean_x"`
	MeanY     float64       `json:"mean_y"`
	Cov       [2][2]float64 `json:"cov"`
}

// Ellipse returns the nSigma confidence ellipse around the noisy-member mean.
func (s SpreadStats) Ellipse(nSigma float64) (Ellipse, error) {
	cov := mat.NewSymDense(2, []float64{s.Cov[0][0], s.Cov[0][1], s.Cov[1][0], s.Cov[1][1]})
	return ConfidenceEllipse(cov, s.MeanX, s.MeanY, nSigma)
}

// Spread computes the mean over noisy members and the x/y covariance over all members.
func (e *Ensemble) Spread(tick int) (SpreadStats, error) {
	poses, err := e.Positions(tick)
	if err != nil {
		return SpreadStats{}, err
	}
	data := mat.NewDense(len(poses), 2, nil)
	xs := make([]float64, 0, len(poses)-1)
	ys := make([]float64, 0, len(poses)-1)
	for m, p := range poses {
		data.Set(m, 0, p.X)
		data.Set(m, 1, p.Y)
		if m > 0 {
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
		}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	return SpreadStats{
		Tick:      tick,
		Reference: poses[0],
		MeanX:     stat.Mean(xs, nil),
		MeanY:     stat.Mean(ys, nil),
		Cov: [2][2]float64{
			{cov.At(0, 0), cov.At(0, 1)},
			{cov.At(1, 0), cov.At(1, 1)},
		},
	}, nil
}

// MeanTrajectory returns the per-tick mean position of the noisy members.
func (e *Ensemble) MeanTrajectory() []Pose {
	out := make([]Pose, e.ticks+1)
	count := float64(len(e.trajectories) - 1)
	for t := range out {
		var sx, sy float64
		for _, traj := range e.trajectories[1:] {
			sx += traj[t].X
			sy += traj[t].Y
		}
		out[t] = Pose{X: sx / count, Y: sy / count}
	}
	return out
}
