package publish

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"pose-engine/fusion"
	"pose-engine/monitoring"
)

const tcpQueueLen = 1000

type Message struct {
	Data []byte
	Flag uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	flag uint32
}

type tcpClient struct {
	addr  string
	flag  uint32
	queue chan *Message
	wg    sync.WaitGroup
}

// Sender fans pose lines out to UDP targets and TCP consumers, each filtered by
// a flag mask. TCP consumers get a bounded queue; messages are dropped when it
// is full.
type Sender struct {
	mu         sync.RWMutex
	udpTargets []*udpTarget
	tcpClients []*tcpClient
	connUDP    *net.UDPConn
	running    bool
}

func NewSender() *Sender {
	return &Sender{}
}

// NewSenderFromConfig builds a sender for every configured publisher.
func NewSenderFromConfig(cfgs []fusion.PublisherConfig) (*Sender, error) {
	s := NewSender()
	for _, c := range cfgs {
		addr := net.JoinHostPort(c.Addr, fmt.Sprint(c.Port))
		mask := c.Mask
		if mask == 0 {
			mask = FlagAll
		}
		switch strings.ToUpper(c.Type) {
		case "TCP":
			s.AddTCPSender(addr, mask)
		case "UDP", "":
			if err := s.AddUDPSender(addr, mask); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("publisher %s: unknown type %q", addr, c.Type)
		}
		monitoring.Logf("publish: %s %s (mask %x)", strings.ToUpper(c.Type), addr, mask)
	}
	return s, nil
}

func (s *Sender) AddUDPSender(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.udpTargets = append(s.udpTargets, &udpTarget{addr: uaddr, flag: flag})
	s.mu.Unlock()
	return nil
}

func (s *Sender) AddTCPSender(addr string, flag uint32) {
	s.mu.Lock()
	c := &tcpClient{addr: addr, flag: flag}
	s.tcpClients = append(s.tcpClients, c)
	if s.running {
		c.start()
	}
	s.mu.Unlock()
}

// Start opens the UDP socket and the TCP client loops. Starting a running
// sender is a no-op; a stopped sender may be started again.
func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running = true
	for _, c := range s.tcpClients {
		c.start()
	}
	return nil
}

func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.connUDP != nil {
		s.connUDP.Close()
	}
	for _, c := range s.tcpClients {
		c.stop()
	}
}

// Send delivers data to every target whose mask includes flag.
func (s *Sender) Send(data []byte, flag uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return
	}

	for _, t := range s.udpTargets {
		if t.flag&flag == flag {
			if _, err := s.connUDP.WriteToUDP(data, t.addr); err != nil {
				monitoring.Logf("publish: udp %s: %v", t.addr, err)
			}
		}
	}

	msg := &Message{Data: data, Flag: flag}
	for _, c := range s.tcpClients {
		if c.flag&flag == flag {
			select {
			case c.queue <- msg:
			default:
			}
		}
	}
}

// Publish formats and sends an estimate. Estimates that do not fit in one
// line are logged and dropped.
func (s *Sender) Publish(est fusion.Estimate) {
	line, err := FormatPose(est)
	if err != nil {
		monitoring.Logf("publish: run %s tick %d: %v", est.RunID, est.Tick, err)
		return
	}
	s.Send(line, FlagFor(est.Kind))
}

// PublishFault announces that the estimator halted.
func (s *Sender) PublishFault(runID string, err error) {
	s.Send(FormatFault(runID, err), FlagFault)
}

// start gives the client a fresh queue, so a stopped sender can be restarted.
func (c *tcpClient) start() {
	c.queue = make(chan *Message, tcpQueueLen)
	c.wg.Add(1)
	go c.loop(c.queue)
}

func (c *tcpClient) stop() {
	close(c.queue)
	c.wg.Wait()
}

func (c *tcpClient) loop(queue <-chan *Message) {
	defer c.wg.Done()
	var conn net.Conn

	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, 2*time.Second)
		if err != nil {
			conn = nil
			return false
		}
		return true
	}

	for msg := range queue {
		if !connect() {
			time.Sleep(500 * time.Millisecond)
			if !connect() {
				continue
			}
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(msg.Data); err != nil {
			monitoring.Logf("publish: tcp write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
			time.Sleep(100 * time.Millisecond)
		}
	}
	if conn != nil {
		conn.Close()
	}
}
