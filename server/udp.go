package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"

	"pose-engine/binlog"
	"pose-engine/fusion"
	"pose-engine/monitoring"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
)

// UdpServer receives wheel and range frames and feeds them, in arrival order,
// to a Dispatcher.
type UdpServer struct {
	conn     *net.UDPConn
	dispatch *Dispatcher

	capture *binlog.PcapWriter

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewUdpServer listens on addr (host:port). An empty addr uses DefaultPort on
// all interfaces.
func NewUdpServer(addr string, d *Dispatcher) (*UdpServer, error) {
	if addr == "" {
		addr = net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultPort))
	}
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(256 * 1024)

	return &UdpServer{
		conn:     conn,
		dispatch: d,
	}, nil
}

// SetCapture logs every received datagram to w. Call before Serve.
func (s *UdpServer) SetCapture(w *binlog.PcapWriter) {
	s.capture = w
}

// NewReplayServer returns a server without a socket, for Replay only.
func NewReplayServer(d *Dispatcher) *UdpServer {
	return &UdpServer{dispatch: d}
}

func (s *UdpServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stats reports frames applied and frames dropped (malformed, unknown or rejected).
func (s *UdpServer) Stats() (frames, dropped uint64) {
	return s.frames.Load(), s.dropped.Load()
}

// Serve reads datagrams until ctx is cancelled.
func (s *UdpServer) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("udp server has no socket")
	}
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	buf := make([]byte, MaxPacketSize)
	monitoring.Logf("UDP server listening on %s", s.conn.LocalAddr())
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("Read error: %v", err)
			continue
		}
		if s.capture != nil {
			if err := s.capture.WriteDatagram(addr, buf[:n]); err != nil {
				monitoring.Logf("Capture write failed, disabling: %v", err)
				s.capture = nil
			}
		}
		s.handlePacket(buf[:n])
	}
}

func (s *UdpServer) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *UdpServer) handlePacket(data []byte) {
	samples, dropped := ParseDatagram(data)
	if dropped > 0 {
		s.dropped.Add(uint64(dropped))
	}
	for _, smp := range samples {
		if err := s.dispatch.Dispatch(smp); err != nil {
			s.dropped.Add(1)
			if !errors.Is(err, fusion.ErrHalted) {
				monitoring.Logf("Frame rejected: %v", err)
			}
			continue
		}
		s.frames.Add(1)
	}
}
