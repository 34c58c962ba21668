package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"pose-engine/binlog"
	"pose-engine/fusion"
	"pose-engine/publish"
	"pose-engine/server"
	"pose-engine/web"
)

func main() {
	port := flag.Int("port", server.DefaultPort, "UDP port to listen on")
	httpPort := flag.Int("http", 0, "HTTP/WebSocket port (e.g. 8080). 0 to disable.")
	distDir := flag.String("dist", "", "Static frontend directory served at / (optional)")
	projectXML := flag.String("project", "", "Path to project.xml (defaults built in when empty)")
	serialPath := flag.String("serial", "", "Serial device carrying W/R sample lines (optional)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	restart := flag.Bool("restart-on-fault", false, "Start a new run after a fatal estimator error")
	pcapPath := flag.String("pcap", "", "Capture received datagrams to this file or directory (optional)")
	replayPath := flag.String("replay", "", "Replay a capture instead of listening on UDP")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	flag.Parse()

	cfg := fusion.DefaultConfig()
	if *projectXML != "" {
		if _, err := os.Stat(*projectXML); os.IsNotExist(err) {
			log.Fatalf("project.xml not found at %s", *projectXML)
		}
		log.Println("Loading configuration...")
		var err error
		if cfg, err = fusion.LoadConfig(*projectXML); err != nil {
			log.Fatalf("Failed to load %s: %v", *projectXML, err)
		}
	}

	pipeline, err := fusion.NewPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	log.Printf("Run %s started", pipeline.RunID())

	dispatcher := server.NewDispatcher(pipeline)
	if *restart {
		dispatcher.OnFault(func(err error) {
			pipeline.Reset()
			log.Printf("Restarted after fault; new run %s", pipeline.RunID())
		})
	}

	if len(cfg.Publishers) > 0 {
		sender, err := publish.NewSenderFromConfig(cfg.Publishers)
		if err != nil {
			log.Fatalf("Failed to configure publishers: %v", err)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Failed to start publishers: %v", err)
		}
		defer sender.Stop()
		dispatcher.SetPublisher(sender)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var udpSvr *server.UdpServer
	if *replayPath != "" {
		f, err := os.Open(*replayPath)
		if err != nil {
			log.Fatalf("Failed to open capture: %v", err)
		}
		defer f.Close()
		udpSvr = server.NewReplayServer(dispatcher)
		log.Printf("Replaying %s at %.1fx speed...", *replayPath, *speed)
		g.Go(func() error { return udpSvr.Replay(ctx, f, *speed) })
	} else {
		udpSvr, err = server.NewUdpServer(net.JoinHostPort("0.0.0.0", strconv.Itoa(*port)), dispatcher)
		if err != nil {
			log.Fatalf("Failed to create UDP server: %v", err)
		}
		if *pcapPath != "" {
			path := *pcapPath
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				path = filepath.Join(path, fmt.Sprintf("SAMPLES_%s.pcap", time.Now().Format("20060102150405")))
			}
			pw, err := binlog.Create(path)
			if err != nil {
				log.Fatalf("Failed to create capture: %v", err)
			}
			defer pw.Close()
			if err := pw.WriteRun(pipeline.RunID()); err != nil {
				log.Fatalf("Failed to write capture: %v", err)
			}
			udpSvr.SetCapture(pw)
			log.Printf("Logging datagrams to %s", path)
		}
		g.Go(func() error { return udpSvr.Serve(ctx) })
	}

	if *httpPort > 0 {
		webSvr := web.NewServer(pipeline)
		dispatcher.SetWebHub(webSvr.Hub)
		g.Go(func() error { return webSvr.Start(ctx, *httpPort, *distDir) })
	}

	if *serialPath != "" {
		src, err := server.OpenSerialSource(*serialPath, server.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("Failed to open serial source: %v", err)
		}
		defer src.Close()
		log.Printf("Reading samples from %s at %d baud", *serialPath, *baud)
		g.Go(func() error {
			if err := src.Run(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("Stopped with error: %v", err)
	}
	frames, dropped := udpSvr.Stats()
	log.Printf("Shutting down (frames=%d dropped=%d)", frames, dropped)
}
