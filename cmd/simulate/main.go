package main

import (
	"encoding/csv"
	"flag"
	"log"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"pose-engine/fusion"
	"pose-engine/server"
)

func main() {
	destAddr := flag.String("dest", "", "Destination UDP address (e.g. 127.0.0.1:44333)")
	outPath := flag.String("out", "", "Write samples as CSV instead of sending")
	truthPath := flag.String("truth", "", "Write the true trajectory as CSV (optional)")
	projectXML := flag.String("project", "", "Path to project.xml (defaults built in when empty)")
	ticks := flag.Int("ticks", 600, "Number of wheel samples")
	left := flag.Float64("left", 4, "Left wheel speed in the EKF speed unit")
	right := flag.Float64("right", 4.4, "Right wheel speed in the EKF speed unit")
	weave := flag.Float64("weave", 1.5, "Amplitude of the sinusoidal right wheel component")
	period := flag.Float64("period", 20, "Period in seconds of the sinusoidal component")
	rangeEvery := flag.Int("range-every", 3, "Wheel samples between range samples (0 disables)")
	seed := flag.Uint64("seed", 1, "Range noise seed")
	speed := flag.Float64("speed", 1.0, "Send speed multiplier (0 for max speed)")
	perDatagram := flag.Int("batch", 1, "Frames per UDP datagram")
	flag.Parse()

	if (*destAddr == "") == (*outPath == "") {
		log.Fatal("exactly one of --dest or --out required")
	}

	cfg := fusion.DefaultConfig()
	if *projectXML != "" {
		var err error
		if cfg, err = fusion.LoadConfig(*projectXML); err != nil {
			log.Fatalf("load %s: %v", *projectXML, err)
		}
	}
	ekfCfg, err := cfg.EKFConfig()
	if err != nil {
		log.Fatalf("ekf config: %v", err)
	}

	samples, truth, err := server.Synthesize(server.Scenario{
		Geometry:   ekfCfg.Geometry,
		Unit:       cfg.GetEKFSpeedUnit(),
		Landmarks:  ekfCfg.Landmarks,
		Start:      ekfCfg.Initial,
		Ticks:      *ticks,
		Left:       *left,
		Right:      *right,
		Weave:      *weave,
		Period:     *period,
		RangeEvery: *rangeEvery,
		RangeSigma: math.Sqrt(ekfCfg.RangeVariance[0]),
		StartSec:   time.Now().Unix(),
		Seed:       *seed,
	})
	if err != nil {
		log.Fatalf("synthesize: %v", err)
	}
	if len(samples) == 0 {
		log.Fatal("no samples to emit")
	}

	if *truthPath != "" {
		if err := writeTruth(*truthPath, ekfCfg.Geometry.Interval, truth); err != nil {
			log.Fatalf("write truth: %v", err)
		}
	}

	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("create %s: %v", *outPath, err)
		}
		if err := server.WriteSamples(f, samples); err != nil {
			log.Fatalf("write %s: %v", *outPath, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("close %s: %v", *outPath, err)
		}
		log.Printf("Wrote %d samples to %s", len(samples), *outPath)
		return
	}

	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	log.Printf("Sending %d samples to %s...", len(samples), *destAddr)
	first := samples[0].Stamp()
	startReal := time.Now()
	var datagram []byte
	pending := 0
	sent := 0
	for i, s := range samples {
		if *speed > 0 && pending == 0 {
			targetDelay := time.Duration((s.Stamp() - first) / *speed * float64(time.Second))
			if elapsed := time.Since(startReal); targetDelay > elapsed {
				time.Sleep(targetDelay - elapsed)
			}
		}
		frame, err := server.EncodeSample(s)
		if err != nil {
			log.Fatalf("encode sample %d: %v", i, err)
		}
		datagram = append(datagram, frame...)
		pending++
		if pending < *perDatagram && i < len(samples)-1 {
			continue
		}
		if _, err := conn.Write(datagram); err != nil {
			log.Printf("Send failed: %v", err)
		}
		sent += pending
		datagram, pending = datagram[:0], 0
	}
	log.Printf("Done. Sent %d frames.", sent)
}

func writeTruth(path string, interval float64, truth []fusion.Pose) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"elapsed", "x", "y", "yaw"})
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for i, p := range truth {
		w.Write([]string{ff(float64(i) * interval), ff(p.X), ff(p.Y), ff(p.Yaw)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
