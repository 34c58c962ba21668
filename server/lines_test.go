package server

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pose-engine/fusion"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		line string
		want Sample
	}{
		{"wheel", "W,10,500000000,1.5,-2", WheelOf(fusion.WheelSample{Sec: 10, Nanosec: 5e8, Left: 1.5, Right: -2})},
		{"range with spaces", " R, 11, 0, 8.5, 9.25, 10 \r", RangeOf(fusion.RangeSample{Sec: 11, Ranges: []float64{8.5, 9.25, 10}})},
		{"lower case kind", "w,1,2,3,4", WheelOf(fusion.WheelSample{Sec: 1, Nanosec: 2, Left: 3, Right: 4})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLine(tc.line)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		"",
		"W,1",
		"W,1,0,2",
		"W,x,0,1,2",
		"W,1,1000000000,1,2",
		"R,1,0,a,2,3",
		"Q,1,0,1,2",
	} {
		_, err := ParseLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestFormatLineRoundTrip(t *testing.T) {
	t.Parallel()
	in := RangeOf(fusion.RangeSample{Sec: 7, Nanosec: 42, Ranges: []float64{0.1, 1.0 / 3, 12}})
	out, err := ParseLine(FormatLine(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadWriteSamples(t *testing.T) {
	t.Parallel()
	src := `# recorded run
W,0,0,1,1
W,0,100000000,1,1.2

R,0,150000000,8.5,9.4,9.5
`
	samples, err := ReadSamples(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, WheelKind, samples[0].Kind)
	assert.Equal(t, RangeKind, samples[2].Kind)
	assert.Equal(t, []float64{8.5, 9.4, 9.5}, samples[2].Range.Ranges)

	var buf bytes.Buffer
	require.NoError(t, WriteSamples(&buf, samples))
	again, err := ReadSamples(&buf)
	require.NoError(t, err)
	assert.Equal(t, samples, again)

	_, err = ReadSamples(strings.NewReader("W,0,0,1,1\nW,bad\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestFeed(t *testing.T) {
	t.Parallel()
	p, err := fusion.NewPipeline(nil)
	require.NoError(t, err)
	d := NewDispatcher(p)

	samples := []Sample{
		WheelOf(fusion.WheelSample{Sec: 0, Left: 1, Right: 1}),
		WheelOf(fusion.WheelSample{Sec: 0, Nanosec: 1e8, Left: 1, Right: 1}),
		RangeOf(fusion.RangeSample{Sec: 0, Nanosec: 1e8, Ranges: []float64{8.5, 9.4, 9.5}}),
	}
	require.NoError(t, Feed(context.Background(), d, samples))
	snap := p.Snapshot()
	assert.Len(t, snap.Predictions, 3)
	assert.Len(t, snap.Updates, 2)

	bad := append(samples, WheelOf(fusion.WheelSample{Sec: 0}))
	p.Reset()
	err = Feed(context.Background(), d, bad)
	assert.ErrorIs(t, err, fusion.ErrNonMonotonicTimestamp)
	assert.ErrorContains(t, err, "sample 3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Feed(ctx, d, samples), context.Canceled)
}
