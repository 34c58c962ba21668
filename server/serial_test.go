package server

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"pose-engine/fusion"
)

func TestPortOptionsNormalize(t *testing.T) {
	t.Parallel()
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, Parity: " even "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	t.Parallel()
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func TestSerialSourceRun(t *testing.T) {
	p, err := fusion.NewPipeline(nil)
	require.NoError(t, err)
	d := NewDispatcher(p)

	input := strings.Join([]string{
		"# boot banner",
		"W,0,0,1,1",
		"garbage line",
		"",
		"W,0,100000000,1,1",
		"R,0,100000000,8.5,9.4,9.5",
	}, "\n") + "\n"
	src := NewSerialSource("test", io.NopCloser(strings.NewReader(input)))

	require.NoError(t, src.Run(context.Background(), d))
	snap := p.Snapshot()
	assert.Len(t, snap.Predictions, 3)
	assert.Len(t, snap.Updates, 2)
}

func TestSerialSourceCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p, err := fusion.NewPipeline(nil)
	require.NoError(t, err)
	src := NewSerialSource("pipe", pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, NewDispatcher(p)) }()

	_, err = pw.Write([]byte("W,0,0,1,1\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(p.Snapshot().Predictions) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
