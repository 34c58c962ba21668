package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"

	"pose-engine/publish"
)

func printLine(line []byte) {
	if bytes.HasPrefix(line, []byte("roboerr:")) {
		fmt.Printf("FAULT %s\n", bytes.TrimSpace(line[12:]))
		return
	}
	msg, err := publish.ParsePose(line)
	if err != nil {
		log.Printf("bad line %q: %v", line, err)
		return
	}
	fmt.Printf("%s %-6s #%-5d t=%8.3f x=%9.4f y=%9.4f yaw=%8.5f var=(%.3g, %.3g, %.3g)\n",
		msg.RunID, msg.Kind, msg.Tick, msg.Elapsed, msg.Pose.X, msg.Pose.Y, msg.Pose.Yaw,
		msg.Variance[0], msg.Variance[1], msg.Variance[2])
}

func listenUDP(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { pc.Close() })
	log.Printf("Listening for UDP poses on %s", pc.LocalAddr())

	buf := make([]byte, 2048)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printLine(buf[:n])
	}
}

func listenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { ln.Close() })
	log.Printf("Listening for TCP poses on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			r := bufio.NewReader(conn)
			for {
				line, err := r.ReadBytes('\n')
				if len(line) > 0 {
					printLine(line)
				}
				if err != nil {
					return
				}
			}
		}()
	}
}

func main() {
	udpAddr := flag.String("udp", "127.0.0.1:5555", "UDP listen address (empty to disable)")
	tcpAddr := flag.String("tcp", "", "TCP listen address (optional)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	running := 0
	if *udpAddr != "" {
		running++
		go func() { errc <- listenUDP(ctx, *udpAddr) }()
	}
	if *tcpAddr != "" {
		running++
		go func() { errc <- listenTCP(ctx, *tcpAddr) }()
	}
	if running == 0 {
		log.Fatal("nothing to listen on")
	}
	for ; running > 0; running-- {
		if err := <-errc; err != nil {
			log.Fatalf("listener: %v", err)
		}
	}
}
