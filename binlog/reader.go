package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Record is one logged entry.
type Record struct {
	Time time.Time
	Flag uint16
	Addr *net.UDPAddr
	Data []byte
}

// Stamp is the capture time in seconds.
func (r Record) Stamp() float64 {
	return float64(r.Time.UnixNano()) / 1e9
}

type Reader struct {
	r   io.Reader
	hdr []byte
}

// NewReader checks the global header.
func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, globalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if m := binary.LittleEndian.Uint32(hdr[0:4]); m != PcapMagic {
		return nil, fmt.Errorf("pcap header: bad magic %#x", m)
	}
	return &Reader{r: r, hdr: make([]byte, recordLen+phdr2Len)}, nil
}

// Next returns the next record, or io.EOF. A record cut short by the end of
// the file is treated as the end of the log.
func (rd *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(rd.r, rd.hdr[:recordLen]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	tsSec := binary.LittleEndian.Uint32(rd.hdr[0:4])
	tsUsec := binary.LittleEndian.Uint32(rd.hdr[4:8])
	inclLen := binary.LittleEndian.Uint32(rd.hdr[8:12])
	if inclLen < phdr2Len || inclLen > SnapLen+phdr2Len {
		return Record{}, fmt.Errorf("pcap record: bad length %d", inclLen)
	}

	if _, err := io.ReadFull(rd.r, rd.hdr[recordLen:]); err != nil {
		return Record{}, io.EOF
	}
	phdr := rd.hdr[recordLen:]
	rec := Record{
		Time: time.Unix(int64(tsSec), int64(tsUsec)*1000),
		Flag: binary.LittleEndian.Uint16(phdr[0:2]),
	}
	if port := binary.LittleEndian.Uint16(phdr[2:4]); port != 0 {
		rec.Addr = &net.UDPAddr{IP: net.IP(append([]byte(nil), phdr[4:8]...)), Port: int(port)}
	}

	rec.Data = make([]byte, int(inclLen)-phdr2Len)
	if _, err := io.ReadFull(rd.r, rec.Data); err != nil {
		return Record{}, io.EOF
	}
	return rec, nil
}

// ReadAll returns every record with the given flag, or all records when flag
// is zero.
func ReadAll(r io.Reader, flag uint16) ([]Record, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if flag == 0 || rec.Flag == flag {
			out = append(out, rec)
		}
	}
}
