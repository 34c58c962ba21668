package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"pose-engine/fusion"
	"pose-engine/report"
	"pose-engine/server"
)

// collector keeps estimates in the order they were produced.
type collector struct {
	estimates []fusion.Estimate
	fault     error
}

func (c *collector) Publish(est fusion.Estimate) { c.estimates = append(c.estimates, est) }

func (c *collector) PublishFault(_ string, err error) { c.fault = err }

func main() {
	inPath := flag.String("in", "", "Input sample CSV (W/R rows)")
	outPath := flag.String("out", "fused.csv", "Output CSV path")
	plotDir := flag.String("plots", "", "Directory for PNG plots (optional)")
	projectXML := flag.String("project", "", "Path to project.xml (defaults built in when empty)")
	flag.Parse()

	if *inPath == "" {
		fmt.Println("--in required")
		os.Exit(1)
	}

	cfg := fusion.DefaultConfig()
	if *projectXML != "" {
		var err error
		if cfg, err = fusion.LoadConfig(*projectXML); err != nil {
			log.Fatalf("load %s: %v", *projectXML, err)
		}
	}

	f, err := os.Open(*inPath)
	if err != nil {
		log.Fatalf("open input: %v", err)
	}
	samples, err := server.ReadSamples(f)
	f.Close()
	if err != nil {
		log.Fatalf("read %s: %v", *inPath, err)
	}

	pipeline, err := fusion.NewPipeline(cfg)
	if err != nil {
		log.Fatalf("create pipeline: %v", err)
	}
	out := &collector{}
	d := server.NewDispatcher(pipeline)
	d.SetPublisher(out)
	if err := server.Feed(context.Background(), d, samples); err != nil {
		// Estimates up to the fault are still written.
		log.Printf("run %s halted: %v", pipeline.RunID(), err)
	}

	if err := writeEstimates(*outPath, out.estimates); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	fmt.Printf("run %s: %d samples, %d estimates -> %s\n", pipeline.RunID(), len(samples), len(out.estimates), *outPath)

	if *plotDir != "" {
		if err := os.MkdirAll(*plotDir, 0o755); err != nil {
			log.Fatalf("create %s: %v", *plotDir, err)
		}
		files, err := report.EKFReport(pipeline.Snapshot(), *plotDir)
		if err != nil {
			log.Fatalf("plots: %v", err)
		}
		for _, name := range files {
			fmt.Println("wrote", name)
		}
	}
	if out.fault != nil {
		os.Exit(2)
	}
}

func writeEstimates(path string, estimates []fusion.Estimate) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"kind", "tick", "elapsed", "x", "y", "yaw", "var_x", "var_y", "var_yaw", "m0", "m1", "m2"})
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, e := range estimates {
		w.Write([]string{
			string(e.Kind), strconv.Itoa(e.Tick), ff(e.Elapsed),
			ff(e.Pose.X), ff(e.Pose.Y), ff(e.Pose.Yaw),
			ff(e.Variance[0]), ff(e.Variance[1]), ff(e.Variance[2]),
			ff(e.Mahalanobis[0]), ff(e.Mahalanobis[1]), ff(e.Mahalanobis[2]),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
