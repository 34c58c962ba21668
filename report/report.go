// Package report renders PNG plots of estimator runs.
package report

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"pose-engine/fusion"
)

const ellipseSegments = 72

var (
	wideW, wideH = 14 * vg.Inch, 6 * vg.Inch
	squareSide   = 10 * vg.Inch
)

// Series is one named curve of a SeriesPlot.
type Series struct {
	Name    string
	Points  plotter.XYs
	Scatter bool
}

func poseXYs(poses []fusion.Pose) plotter.XYs {
	pts := make(plotter.XYs, len(poses))
	for i, p := range poses {
		pts[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return pts
}

func ellipseXYs(el fusion.Ellipse) plotter.XYs {
	raw := el.Points(ellipseSegments)
	pts := make(plotter.XYs, len(raw))
	for i, p := range raw {
		pts[i] = plotter.XY{X: p[0], Y: p[1]}
	}
	return pts
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, idx int, width vg.Length) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	l.Width = width
	l.Color = plotutil.Color(idx)
	p.Add(l)
	if name != "" {
		p.Legend.Add(name, l)
	}
	return nil
}

func addScatter(p *plot.Plot, name string, pts plotter.XYs, idx int, shape draw.GlyphDrawer, radius vg.Length) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.GlyphStyle.Color = plotutil.Color(idx)
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = radius
	p.Add(s)
	if name != "" {
		p.Legend.Add(name, s)
	}
	return nil
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	return p
}

// SeriesPlot draws named curves sharing one pair of axes.
func SeriesPlot(title, xLabel, yLabel string, series []Series, path string) error {
	p := newPlot(title, xLabel, yLabel)
	for i, s := range series {
		var err error
		if s.Scatter {
			err = addScatter(p, s.Name, s.Points, i, draw.CircleGlyph{}, vg.Points(2))
		} else {
			err = addLine(p, s.Name, s.Points, i, vg.Points(1))
		}
		if err != nil {
			return err
		}
	}
	if err := p.Save(wideW, wideH, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// EKFTrajectoryPlot draws the predicted and updated paths, the landmarks and
// an nSigma ellipse every `every` updates (plus the last one).
func EKFTrajectoryPlot(snap fusion.Snapshot, nSigma float64, every int, path string) error {
	p := newPlot("EKF trajectory", "X (m)", "Y (m)")

	predicted := make([]fusion.Pose, len(snap.Predictions))
	for i, r := range snap.Predictions {
		predicted[i] = r.Pose
	}
	updated := make([]fusion.Pose, len(snap.Updates))
	for i, r := range snap.Updates {
		updated[i] = r.Pose
	}
	landmarks := make(plotter.XYs, len(snap.Landmarks))
	for i, lm := range snap.Landmarks {
		landmarks[i] = plotter.XY{X: lm.X, Y: lm.Y}
	}

	if err := addLine(p, "predicted", poseXYs(predicted), 0, vg.Points(1)); err != nil {
		return err
	}
	if err := addScatter(p, "updated", poseXYs(updated), 1, draw.CircleGlyph{}, vg.Points(2)); err != nil {
		return err
	}
	if err := addScatter(p, "landmarks", landmarks, 2, draw.TriangleGlyph{}, vg.Points(5)); err != nil {
		return err
	}

	if every <= 0 {
		every = 1
	}
	label := fmt.Sprintf("%gσ", nSigma)
	for i, r := range snap.Updates {
		if i%every != 0 && i != len(snap.Updates)-1 {
			continue
		}
		el, err := fusion.ConfidenceEllipse(r.Cov.Sym(), r.Pose.X, r.Pose.Y, nSigma)
		if err != nil {
			return fmt.Errorf("update %d: %w", r.Tick, err)
		}
		if err := addLine(p, label, ellipseXYs(el), 3, vg.Points(0.5)); err != nil {
			return err
		}
		label = ""
	}

	if err := p.Save(squareSide, squareSide, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// EnsemblePlot draws the reference and mean trajectories, and at each of
// ticks the member positions with 1, 2 and 3 sigma ellipses.
func EnsemblePlot(e *fusion.Ensemble, ticks []int, path string) error {
	p := newPlot(fmt.Sprintf("Ensemble (%d members)", e.Members()-1), "X (m)", "Y (m)")

	if err := addLine(p, "reference", poseXYs(e.Trajectory(0)), 0, vg.Points(1.5)); err != nil {
		return err
	}
	if err := addLine(p, "mean", poseXYs(e.MeanTrajectory()), 1, vg.Points(1)); err != nil {
		return err
	}

	for i, tick := range ticks {
		positions, err := e.Positions(tick)
		if err != nil {
			return err
		}
		spread, err := e.Spread(tick)
		if err != nil {
			return err
		}
		if err := addScatter(p, fmt.Sprintf("tick %d", tick), poseXYs(positions[1:]), 2+i, draw.CircleGlyph{}, vg.Points(1)); err != nil {
			return err
		}
		for k := 1; k <= 3; k++ {
			el, err := spread.Ellipse(float64(k))
			if err != nil {
				return fmt.Errorf("tick %d: %w", tick, err)
			}
			if err := addLine(p, "", ellipseXYs(el), 2+i, vg.Points(0.5)); err != nil {
				return err
			}
		}
	}

	if err := p.Save(squareSide, squareSide, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// EKFReport writes the trajectory and time-series plots of a run into dir and
// returns the files written.
func EKFReport(snap fusion.Snapshot, dir string) ([]string, error) {
	var files []string
	out := func(name string) string {
		path := filepath.Join(dir, name)
		files = append(files, path)
		return path
	}

	if err := EKFTrajectoryPlot(snap, 3, 10, out("ekf_trajectory.png")); err != nil {
		return nil, err
	}

	var varX, varY, varYaw, left, right plotter.XYs
	for _, r := range snap.Predictions {
		d := r.Cov.Diag()
		varX = append(varX, plotter.XY{X: r.Elapsed, Y: d[0]})
		varY = append(varY, plotter.XY{X: r.Elapsed, Y: d[1]})
		varYaw = append(varYaw, plotter.XY{X: r.Elapsed, Y: d[2]})
		if r.Tick > 0 {
			left = append(left, plotter.XY{X: r.Elapsed, Y: r.Left})
			right = append(right, plotter.XY{X: r.Elapsed, Y: r.Right})
		}
	}
	if err := SeriesPlot("Predicted covariance", "t (s)", "variance", []Series{
		{Name: "var x", Points: varX},
		{Name: "var y", Points: varY},
		{Name: "var yaw", Points: varYaw},
	}, out("ekf_covariance.png")); err != nil {
		return nil, err
	}
	if err := SeriesPlot("Wheel speeds", "t (s)", "speed", []Series{
		{Name: "left", Points: left},
		{Name: "right", Points: right},
	}, out("ekf_wheels.png")); err != nil {
		return nil, err
	}

	maha := make([]plotter.XYs, fusion.NumLandmarks)
	measured := make([]plotter.XYs, fusion.NumLandmarks)
	predicted := make([]plotter.XYs, fusion.NumLandmarks)
	for _, r := range snap.Updates {
		if r.Tick == 0 {
			continue
		}
		for j := 0; j < fusion.NumLandmarks; j++ {
			maha[j] = append(maha[j], plotter.XY{X: r.Elapsed, Y: r.Mahalanobis[j]})
			measured[j] = append(measured[j], plotter.XY{X: r.Elapsed, Y: r.Measured[j]})
			predicted[j] = append(predicted[j], plotter.XY{X: r.Elapsed, Y: r.Predicted[j]})
		}
	}
	var mSeries, dSeries []Series
	for j := 0; j < fusion.NumLandmarks; j++ {
		mSeries = append(mSeries, Series{Name: fmt.Sprintf("landmark %d", j), Points: maha[j], Scatter: true})
		dSeries = append(dSeries,
			Series{Name: fmt.Sprintf("measured %d", j), Points: measured[j], Scatter: true},
			Series{Name: fmt.Sprintf("predicted %d", j), Points: predicted[j]},
		)
	}
	if err := SeriesPlot("Mahalanobis score", "t (s)", "v²/S", mSeries, out("ekf_mahalanobis.png")); err != nil {
		return nil, err
	}
	if err := SeriesPlot("Landmark distances", "t (s)", "range (m)", dSeries, out("ekf_ranges.png")); err != nil {
		return nil, err
	}
	return files, nil
}
