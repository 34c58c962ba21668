package web

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"pose-engine/fusion"
)

const ellipseSegments = 48

func xyScatter(title, subtitle string) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	return scatter
}

func poseData(poses []fusion.Pose) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(poses))
	for _, p := range poses {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

func pointData(pts [][2]float64) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{p[0], p[1]}})
	}
	return data
}

func symbol(size float32) charts.SeriesOpts {
	return charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: size})
}

func timeSeries(title, yName string, x []string, series map[string][]float64, order []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	line.SetXAxis(x)
	for _, name := range order {
		vals := series[name]
		data := make([]opts.LineData, len(vals))
		for i, v := range vals {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(name, data)
	}
	return line
}

func elapsedLabel(t float64) string {
	return strconv.FormatFloat(t, 'f', 2, 64)
}

// RenderEKF writes the EKF dashboard: paths with the latest confidence
// ellipse, covariance diagonals and Mahalanobis scores.
func RenderEKF(w io.Writer, snap fusion.Snapshot) error {
	track := xyScatter("EKF trajectory", fmt.Sprintf("run=%s predictions=%d updates=%d",
		snap.RunID, len(snap.Predictions), len(snap.Updates)))

	predicted := make([]fusion.Pose, len(snap.Predictions))
	for i, r := range snap.Predictions {
		predicted[i] = r.Pose
	}
	updated := make([]fusion.Pose, len(snap.Updates))
	for i, r := range snap.Updates {
		updated[i] = r.Pose
	}
	lms := make([][2]float64, len(snap.Landmarks))
	for i, lm := range snap.Landmarks {
		lms[i] = [2]float64{lm.X, lm.Y}
	}
	track.AddSeries("predicted", poseData(predicted), symbol(3)).
		AddSeries("updated", poseData(updated), symbol(6)).
		AddSeries("landmarks", pointData(lms), symbol(14))
	if n := len(snap.Updates); n > 0 {
		last := snap.Updates[n-1]
		if el, err := fusion.ConfidenceEllipse(last.Cov.Sym(), last.Pose.X, last.Pose.Y, 3); err == nil {
			track.AddSeries("3σ", pointData(el.Points(ellipseSegments)), symbol(2))
		}
	}

	xs := make([]string, len(snap.Predictions))
	cov := map[string][]float64{"var x": nil, "var y": nil, "var yaw": nil}
	for i, r := range snap.Predictions {
		xs[i] = elapsedLabel(r.Elapsed)
		d := r.Cov.Diag()
		cov["var x"] = append(cov["var x"], d[0])
		cov["var y"] = append(cov["var y"], d[1])
		cov["var yaw"] = append(cov["var yaw"], d[2])
	}
	covChart := timeSeries("Predicted covariance", "variance", xs, cov, []string{"var x", "var y", "var yaw"})

	ux := make([]string, len(snap.Updates))
	maha := map[string][]float64{"m0": nil, "m1": nil, "m2": nil}
	for i, r := range snap.Updates {
		ux[i] = elapsedLabel(r.Elapsed)
		maha["m0"] = append(maha["m0"], r.Mahalanobis[0])
		maha["m1"] = append(maha["m1"], r.Mahalanobis[1])
		maha["m2"] = append(maha["m2"], r.Mahalanobis[2])
	}
	mahaChart := timeSeries("Mahalanobis score per landmark", "v²/S", ux, maha, []string{"m0", "m1", "m2"})

	page := components.NewPage()
	page.PageTitle = "EKF"
	page.AddCharts(track, covChart, mahaChart)
	return page.Render(w)
}

// RenderEnsemble writes the ensemble dashboard. It reports an error when the
// snapshot carries no ensemble.
func RenderEnsemble(w io.Writer, snap fusion.Snapshot) error {
	view := snap.Ensemble
	if view == nil {
		return fmt.Errorf("ensemble disabled")
	}
	scatter := xyScatter("Ensemble", fmt.Sprintf("run=%s members=%d ticks=%d exhausted=%v",
		snap.RunID, view.Members, view.Ticks, view.Exhausted))
	scatter.AddSeries("reference", poseData(view.Reference), symbol(3)).
		AddSeries("mean", poseData(view.Mean), symbol(3))

	scatter.AddSeries("members", poseData(view.Positions), symbol(4))
	if view.Latest != nil {
		for k := 1; k <= 3; k++ {
			el, err := view.Latest.Ellipse(float64(k))
			if err != nil {
				break
			}
			scatter.AddSeries(fmt.Sprintf("%dσ", k), pointData(el.Points(ellipseSegments)), symbol(2))
		}
	}

	page := components.NewPage()
	page.PageTitle = "Ensemble"
	page.AddCharts(scatter)
	return page.Render(w)
}
