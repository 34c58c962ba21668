package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"pose-engine/fusion"
	"pose-engine/report"
	"pose-engine/server"
)

func parseTicks(s string) ([]int, error) {
	var ticks []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("tick %q: %w", f, err)
		}
		ticks = append(ticks, n)
	}
	return ticks, nil
}

func main() {
	inPath := flag.String("in", "", "Sample CSV; W rows drive the ensemble (optional)")
	left := flag.Float64("left", 20, "Constant left wheel speed when no CSV is given")
	right := flag.Float64("right", 22, "Constant right wheel speed when no CSV is given")
	projectXML := flag.String("project", "", "Path to project.xml (defaults built in when empty)")
	members := flag.Int("members", 0, "Override the number of noisy members")
	seed := flag.Uint64("seed", 0, "Override the sampler seed (0 keeps the configured one)")
	workers := flag.Int("workers", 4, "Parallel stepping workers")
	at := flag.String("at", "700,1400,2100", "Ticks at which to draw members and ellipses")
	outPath := flag.String("out", "ensemble.png", "Output PNG path")
	flag.Parse()

	cfg := fusion.DefaultConfig()
	if *projectXML != "" {
		var err error
		if cfg, err = fusion.LoadConfig(*projectXML); err != nil {
			log.Fatalf("load %s: %v", *projectXML, err)
		}
	}
	ensCfg, err := cfg.EnsembleConfig()
	if err != nil {
		log.Fatalf("ensemble config: %v", err)
	}
	if *members > 0 {
		ensCfg.Members = *members
	}
	if *seed != 0 {
		ensCfg.Seed = *seed
	}
	ensCfg.Workers = *workers
	ens, err := fusion.NewEnsemble(ensCfg)
	if err != nil {
		log.Fatalf("ensemble: %v", err)
	}

	unit := cfg.GetEnsembleSpeedUnit()
	geom := ensCfg.Geometry
	step := func(l, r float64) error {
		return ens.Step(geom.Increment(unit.ToRadPerSec(l), unit.ToRadPerSec(r), geom.Interval))
	}

	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			log.Fatalf("open input: %v", err)
		}
		samples, err := server.ReadSamples(f)
		f.Close()
		if err != nil {
			log.Fatalf("read %s: %v", *inPath, err)
		}
		for _, s := range samples {
			if s.Kind != server.WheelKind {
				continue
			}
			if err := step(s.Wheel.Left, s.Wheel.Right); err != nil {
				if errors.Is(err, fusion.ErrTickBudgetExhausted) {
					log.Printf("tick budget of %d reached; remaining samples ignored", ensCfg.TickLimit)
					break
				}
				log.Fatalf("step %d: %v", ens.Ticks()+1, err)
			}
		}
	} else {
		if ensCfg.TickLimit == 0 {
			log.Fatalf("constant-speed runs need a tick limit")
		}
		for ens.Ticks() < ensCfg.TickLimit {
			if err := step(*left, *right); err != nil {
				log.Fatalf("step %d: %v", ens.Ticks()+1, err)
			}
		}
	}

	ticks, err := parseTicks(*at)
	if err != nil {
		log.Fatal(err)
	}
	var drawn []int
	for _, t := range ticks {
		if t > ens.Ticks() {
			log.Printf("skipping tick %d; run has %d", t, ens.Ticks())
			continue
		}
		drawn = append(drawn, t)
		spread, err := ens.Spread(t)
		if err != nil {
			log.Fatalf("spread at %d: %v", t, err)
		}
		fmt.Printf("tick %d: reference (%.3f, %.3f) mean (%.3f, %.3f) var (%.4g, %.4g)\n", t,
			spread.Reference.X, spread.Reference.Y, spread.MeanX, spread.MeanY, spread.Cov[0][0], spread.Cov[1][1])
	}

	if err := report.EnsemblePlot(ens, drawn, *outPath); err != nil {
		log.Fatalf("plot: %v", err)
	}
	fmt.Printf("%d members, %d ticks -> %s\n", ens.Members()-1, ens.Ticks(), *outPath)
}
