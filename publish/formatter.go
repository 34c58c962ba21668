package publish

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pose-engine/fusion"
)

var ErrLineTooLong = errors.New("line exceeds the length field")

// FormatPose renders an estimate as one text line:
//
//	robopos:NNN,<run>,<kind>,<tick>,<elapsed>,<x>,<y>,<yaw>,<var x>,<var y>,<var yaw>\r\n
//
// NNN is the total line length, written into the header. Lines longer than
// MaxLineLen are rejected with ErrLineTooLong.
func FormatPose(est fusion.Estimate) ([]byte, error) {
	body := fmt.Sprintf("%s,%s,%d,%.4f,%.4f,%.4f,%.5f,%.6g,%.6g,%.6g\r\n",
		est.RunID, est.Kind, est.Tick, est.Elapsed,
		est.Pose.X, est.Pose.Y, est.Pose.Yaw,
		est.Variance[0], est.Variance[1], est.Variance[2])
	if n := headerLen + len(body); n > MaxLineLen {
		return nil, fmt.Errorf("%w: pose line of %d bytes", ErrLineTooLong, n)
	}
	return withHeader(poseTag, body), nil
}

// FormatFault renders a halted-estimator notice. The error text is cut so the
// line fits in MaxLineLen.
func FormatFault(runID string, err error) []byte {
	msg := strings.NewReplacer(",", ";", "\r", " ", "\n", " ").Replace(err.Error())
	room := MaxLineLen - headerLen - len(runID) - len(",\r\n")
	if room < 0 {
		runID, room = runID[:len(runID)+room], 0
	}
	if len(msg) > room {
		msg = msg[:room]
	}
	return withHeader(faultTag, fmt.Sprintf("%s,%s\r\n", runID, msg))
}

func withHeader(tag, body string) []byte {
	b := []byte(tag + ":   ," + body)
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + (n/100)%10)
	}
	b[9] = byte('0' + (n/10)%10)
	b[10] = byte('0' + n%10)
	return b
}

// PoseMessage is a decoded pose line.
type PoseMessage struct {
	RunID    string
	Kind     fusion.EstimateKind
	Tick     int
	Elapsed  float64
	Pose     fusion.Pose
	Variance [3]float64
}

// ParsePose decodes a line produced by FormatPose.
func ParsePose(line []byte) (PoseMessage, error) {
	s := string(line)
	if len(s) < headerLen || !strings.HasPrefix(s, poseTag+":") {
		return PoseMessage{}, fmt.Errorf("not a pose line")
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s[8:11])); err != nil || n != len(s) {
		return PoseMessage{}, fmt.Errorf("length field %q does not match %d", s[8:11], len(s))
	}
	fields := strings.Split(strings.TrimRight(s[headerLen:], "\r\n"), ",")
	if len(fields) != 10 {
		return PoseMessage{}, fmt.Errorf("pose line has %d fields, want 10", len(fields))
	}
	var msg PoseMessage
	msg.RunID = fields[0]
	msg.Kind = fusion.EstimateKind(fields[1])
	tick, err := strconv.Atoi(fields[2])
	if err != nil {
		return PoseMessage{}, fmt.Errorf("tick: %w", err)
	}
	msg.Tick = tick
	vals := make([]float64, 7)
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(fields[3+i], 64); err != nil {
			return PoseMessage{}, fmt.Errorf("field %d: %w", 3+i, err)
		}
	}
	msg.Elapsed = vals[0]
	msg.Pose = fusion.Pose{X: vals[1], Y: vals[2], Yaw: vals[3]}
	msg.Variance = [3]float64{vals[4], vals[5], vals[6]}
	return msg, nil
}
