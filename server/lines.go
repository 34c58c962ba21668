package server

import (
	"fmt"
	"strconv"
	"strings"

	"pose-engine/fusion"
)

// ParseLine decodes a text sample:
//
//	W,<sec>,<nanosec>,<left>,<right>
//	R,<sec>,<nanosec>,<r0>,<r1>,...
func ParseLine(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, fmt.Errorf("empty line")
	}
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return parseFields(fields)
}

func parseFields(fields []string) (Sample, error) {
	if len(fields) < 3 {
		return Sample{}, fmt.Errorf("sample needs kind, sec and nanosec, got %d fields", len(fields))
	}
	sec, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("sec: %w", err)
	}
	nsec, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("nanosec: %w", err)
	}
	if nsec >= 1e9 {
		return Sample{}, fmt.Errorf("nanosec out of range: %d", nsec)
	}
	vals := make([]float64, len(fields)-3)
	for i, f := range fields[3:] {
		if vals[i], err = strconv.ParseFloat(f, 64); err != nil {
			return Sample{}, fmt.Errorf("field %d: %w", i+3, err)
		}
	}

	switch strings.ToUpper(fields[0]) {
	case "W":
		if len(vals) != 2 {
			return Sample{}, fmt.Errorf("wheel sample needs 2 speeds, got %d", len(vals))
		}
		return WheelOf(fusion.WheelSample{Sec: sec, Nanosec: uint32(nsec), Left: vals[0], Right: vals[1]}), nil
	case "R":
		return RangeOf(fusion.RangeSample{Sec: sec, Nanosec: uint32(nsec), Ranges: vals}), nil
	default:
		return Sample{}, fmt.Errorf("unknown sample kind %q", fields[0])
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sampleFields is the inverse of parseFields.
func sampleFields(s Sample) []string {
	if s.Kind == RangeKind {
		out := []string{"R", strconv.FormatInt(s.Range.Sec, 10), strconv.FormatUint(uint64(s.Range.Nanosec), 10)}
		for _, r := range s.Range.Ranges {
			out = append(out, formatFloat(r))
		}
		return out
	}
	return []string{
		"W",
		strconv.FormatInt(s.Wheel.Sec, 10),
		strconv.FormatUint(uint64(s.Wheel.Nanosec), 10),
		formatFloat(s.Wheel.Left),
		formatFloat(s.Wheel.Right),
	}
}

// FormatLine renders a sample as a ParseLine-compatible line without terminator.
func FormatLine(s Sample) string {
	return strings.Join(sampleFields(s), ",")
}
