package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"

	"pose-engine/fusion"
	"pose-engine/monitoring"
)

// PortOptions describes how to open the odometry/range serial link.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in defaults (115200 8N1).
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for serial.Open.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialSource reads W/R sample lines from a serial port (or any stream).
type SerialSource struct {
	name string
	port io.ReadCloser
}

func OpenSerialSource(path string, opts PortOptions) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialSource(path, port), nil
}

func NewSerialSource(name string, port io.ReadCloser) *SerialSource {
	return &SerialSource{name: name, port: port}
}

func (s *SerialSource) Close() error { return s.port.Close() }

// Run dispatches every line until the stream ends or ctx is cancelled.
// Unparseable lines are logged and skipped.
func (s *SerialSource) Run(ctx context.Context, d *Dispatcher) error {
	scan := bufio.NewScanner(s.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.port.Close()
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("read %s: %w", s.name, err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("read %s: %w", s.name, err)
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
				continue
			}
			smp, err := ParseLine(line)
			if err != nil {
				monitoring.Logf("serial %s: skipping %q: %v", s.name, line, err)
				continue
			}
			if err := d.Dispatch(smp); err != nil && !errors.Is(err, fusion.ErrHalted) {
				monitoring.Logf("serial %s: sample rejected: %v", s.name, err)
			}
		}
	}
}
