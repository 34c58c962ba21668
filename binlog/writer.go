// Package binlog records received sample datagrams in a pcap-framed log so a
// session can be replayed through the estimator later.
package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4
	SnapLen   = 65535

	globalLen = 24
	recordLen = 16
	phdr2Len  = 8
)

// Record flags.
const (
	FlagDatagram uint16 = 0x01
	// FlagRun marks a metadata record whose payload is the run id.
	FlagRun uint16 = 0x04
)

type PcapWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	now func() time.Time
}

// Create opens path and writes the global header.
func Create(path string) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	pw, err := NewPcapWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pw, nil
}

// NewPcapWriter writes the global header to w.
func NewPcapWriter(w io.Writer) (*PcapWriter, error) {
	pw := &PcapWriter{
		w:   w,
		buf: make([]byte, recordLen+phdr2Len),
		now: time.Now,
	}
	if err := pw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return pw, nil
}

func (pw *PcapWriter) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, globalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], SnapLen)
	binary.LittleEndian.PutUint32(b[20:], 1)
	_, err := pw.w.Write(b)
	return err
}

// WriteDatagram logs one received datagram.
func (pw *PcapWriter) WriteDatagram(addr *net.UDPAddr, data []byte) error {
	return pw.WriteRecord(FlagDatagram, addr, data)
}

// WriteRun logs the start of an estimator run.
func (pw *PcapWriter) WriteRun(runID string) error {
	return pw.WriteRecord(FlagRun, nil, []byte(runID))
}

func (pw *PcapWriter) WriteRecord(flag uint16, addr *net.UDPAddr, data []byte) error {
	if len(data) > SnapLen {
		return fmt.Errorf("record of %d bytes exceeds snap length", len(data))
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()

	now := pw.now()
	total := uint32(len(data) + phdr2Len)

	// ts_sec(4), ts_usec(4), incl_len(4), orig_len(4)
	binary.LittleEndian.PutUint32(pw.buf[0:], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(pw.buf[4:], uint32(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(pw.buf[8:], total)
	binary.LittleEndian.PutUint32(pw.buf[12:], total)

	// flag(2), port(2), ip(4) in network byte order
	binary.LittleEndian.PutUint16(pw.buf[16:], flag)
	clear(pw.buf[18:24])
	if addr != nil {
		binary.LittleEndian.PutUint16(pw.buf[18:], uint16(addr.Port))
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(pw.buf[20:24], ip4)
		}
	}

	if _, err := pw.w.Write(pw.buf); err != nil {
		return err
	}
	_, err := pw.w.Write(data)
	return err
}

func (pw *PcapWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if c, ok := pw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
