package server

import (
	"context"
	"errors"
	"io"
	"time"

	"pose-engine/binlog"
	"pose-engine/monitoring"
)

// Replay feeds the datagrams of a capture log through the dispatcher, paced
// by their capture times divided by speed (0 replays at full speed). Run
// records are logged and skipped.
func (s *UdpServer) Replay(ctx context.Context, r io.Reader, speed float64) error {
	rd, err := binlog.NewReader(r)
	if err != nil {
		return err
	}

	var firstTs float64
	var startReal time.Time
	count := 0
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rec.Flag == binlog.FlagRun {
			monitoring.Logf("Replay: capture of run %s", rec.Data)
			continue
		}
		if rec.Flag != binlog.FlagDatagram {
			continue
		}

		ts := rec.Stamp()
		if count == 0 {
			firstTs, startReal = ts, time.Now()
		} else if speed > 0 {
			targetDelay := time.Duration((ts - firstTs) / speed * float64(time.Second))
			if wait := targetDelay - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.handlePacket(rec.Data)
		count++
	}
	frames, dropped := s.Stats()
	monitoring.Logf("Replay ended: %d datagrams, %d frames applied, %d dropped", count, frames, dropped)
	return nil
}
