package server

import (
	"encoding/binary"
	"fmt"
	"math"

	"pose-engine/fusion"
)

const (
	FrameMagic  = 0x4F50 // little endian 'P' 'O'
	FrameHdrLen = 5

	TypeWheelFrame = 0x10
	TypeRangeFrame = 0x20

	wheelBodyLen  = 24
	rangeFixedLen = 9
	maxRanges     = 255
)

// FrameHeader: magic u16, type u8, body length u16, all little endian.
type FrameHeader struct {
	Magic   uint16
	Type    uint8
	BodyLen int
}

type SampleKind byte

const (
	WheelKind SampleKind = 'W'
	RangeKind SampleKind = 'R'
)

// Sample is one decoded wheel or range message.
type Sample struct {
	Kind  SampleKind
	Wheel fusion.WheelSample
	Range fusion.RangeSample
}

func WheelOf(w fusion.WheelSample) Sample { return Sample{Kind: WheelKind, Wheel: w} }

func RangeOf(r fusion.RangeSample) Sample { return Sample{Kind: RangeKind, Range: r} }

// Stamp returns the sample time in seconds.
func (s Sample) Stamp() float64 {
	if s.Kind == RangeKind {
		return s.Range.Stamp()
	}
	return s.Wheel.Stamp()
}

// ParseHeader parses the frame header from the beginning of data.
func ParseHeader(data []byte) (*FrameHeader, error) {
	if len(data) < FrameHdrLen {
		return nil, fmt.Errorf("packet too short")
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != FrameMagic {
		return nil, fmt.Errorf("invalid magic: 0x%x", magic)
	}
	return &FrameHeader{
		Magic:   magic,
		Type:    data[2],
		BodyLen: int(binary.LittleEndian.Uint16(data[3:5])),
	}, nil
}

func ParseWheelFrame(body []byte) (fusion.WheelSample, error) {
	if len(body) < wheelBodyLen {
		return fusion.WheelSample{}, fmt.Errorf("wheel frame too short")
	}
	nsec := binary.LittleEndian.Uint32(body[4:8])
	if nsec >= 1e9 {
		return fusion.WheelSample{}, fmt.Errorf("wheel frame nanoseconds out of range: %d", nsec)
	}
	return fusion.WheelSample{
		Sec:     int64(binary.LittleEndian.Uint32(body[0:4])),
		Nanosec: nsec,
		Left:    math.Float64frombits(binary.LittleEndian.Uint64(body[8:16])),
		Right:   math.Float64frombits(binary.LittleEndian.Uint64(body[16:24])),
	}, nil
}

func ParseRangeFrame(body []byte) (fusion.RangeSample, error) {
	if len(body) < rangeFixedLen {
		return fusion.RangeSample{}, fmt.Errorf("range frame too short")
	}
	nsec := binary.LittleEndian.Uint32(body[4:8])
	if nsec >= 1e9 {
		return fusion.RangeSample{}, fmt.Errorf("range frame nanoseconds out of range: %d", nsec)
	}
	num := int(body[8])
	if len(body) < rangeFixedLen+8*num {
		return fusion.RangeSample{}, fmt.Errorf("range frame truncated: %d ranges in %d bytes", num, len(body))
	}
	ranges := make([]float64, num)
	base := rangeFixedLen
	for i := range ranges {
		ranges[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[base : base+8]))
		base += 8
	}
	return fusion.RangeSample{
		Sec:     int64(binary.LittleEndian.Uint32(body[0:4])),
		Nanosec: nsec,
		Ranges:  ranges,
	}, nil
}

func putHeader(buf []byte, typ uint8, bodyLen int) {
	binary.LittleEndian.PutUint16(buf[0:2], FrameMagic)
	buf[2] = typ
	binary.LittleEndian.PutUint16(buf[3:5], uint16(bodyLen))
}

func checkStamp(sec int64, nsec uint32) error {
	if sec < 0 || sec > math.MaxUint32 {
		return fmt.Errorf("seconds %d do not fit the frame", sec)
	}
	if nsec >= 1e9 {
		return fmt.Errorf("nanoseconds out of range: %d", nsec)
	}
	return nil
}

func EncodeWheelFrame(s fusion.WheelSample) ([]byte, error) {
	if err := checkStamp(s.Sec, s.Nanosec); err != nil {
		return nil, err
	}
	buf := make([]byte, FrameHdrLen+wheelBodyLen)
	putHeader(buf, TypeWheelFrame, wheelBodyLen)
	body := buf[FrameHdrLen:]
	binary.LittleEndian.PutUint32(body[0:4], uint32(s.Sec))
	binary.LittleEndian.PutUint32(body[4:8], s.Nanosec)
	binary.LittleEndian.PutUint64(body[8:16], math.Float64bits(s.Left))
	binary.LittleEndian.PutUint64(body[16:24], math.Float64bits(s.Right))
	return buf, nil
}

func EncodeRangeFrame(s fusion.RangeSample) ([]byte, error) {
	if err := checkStamp(s.Sec, s.Nanosec); err != nil {
		return nil, err
	}
	if len(s.Ranges) > maxRanges {
		return nil, fmt.Errorf("too many ranges: %d", len(s.Ranges))
	}
	bodyLen := rangeFixedLen + 8*len(s.Ranges)
	buf := make([]byte, FrameHdrLen+bodyLen)
	putHeader(buf, TypeRangeFrame, bodyLen)
	body := buf[FrameHdrLen:]
	binary.LittleEndian.PutUint32(body[0:4], uint32(s.Sec))
	binary.LittleEndian.PutUint32(body[4:8], s.Nanosec)
	body[8] = byte(len(s.Ranges))
	base := rangeFixedLen
	for _, r := range s.Ranges {
		binary.LittleEndian.PutUint64(body[base:base+8], math.Float64bits(r))
		base += 8
	}
	return buf, nil
}

// EncodeSample encodes either kind of sample.
func EncodeSample(s Sample) ([]byte, error) {
	if s.Kind == RangeKind {
		return EncodeRangeFrame(s.Range)
	}
	return EncodeWheelFrame(s.Wheel)
}

// ParseDatagram walks every frame in data. Bytes that do not start a valid
// header are skipped one at a time so the parser resynchronizes on the next
// magic. Frames with unknown types or bad bodies are counted as dropped.
func ParseDatagram(data []byte) (samples []Sample, dropped int) {
	offset := 0
	for offset < len(data) {
		if len(data)-offset < FrameHdrLen {
			break
		}
		hdr, err := ParseHeader(data[offset:])
		if err != nil {
			offset++
			continue
		}
		total := FrameHdrLen + hdr.BodyLen
		if offset+total > len(data) {
			dropped++
			break
		}
		body := data[offset+FrameHdrLen : offset+total]
		offset += total

		switch hdr.Type {
		case TypeWheelFrame:
			w, err := ParseWheelFrame(body)
			if err != nil {
				dropped++
				continue
			}
			samples = append(samples, WheelOf(w))
		case TypeRangeFrame:
			r, err := ParseRangeFrame(body)
			if err != nil {
				dropped++
				continue
			}
			samples = append(samples, RangeOf(r))
		default:
			dropped++
		}
	}
	return samples, dropped
}
