package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pose-engine/fusion"
)

func TestUdpServerFeedsPipeline(t *testing.T) {
	p, err := fusion.NewPipeline(nil)
	require.NoError(t, err)
	hub := &recordingHub{}
	d := NewDispatcher(p)
	d.SetWebHub(hub)

	srv, err := NewUdpServer("127.0.0.1:0", d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.Dial("udp", srv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	var datagram []byte
	for i := 0; i < 3; i++ {
		f, err := EncodeWheelFrame(fusion.WheelSample{Sec: 1, Nanosec: uint32(i) * 1e8, Left: 1, Right: 1})
		require.NoError(t, err)
		datagram = append(datagram, f...)
	}
	rf, err := EncodeRangeFrame(fusion.RangeSample{Sec: 1, Nanosec: 2e8, Ranges: []float64{8.5, 9.4, 9.5}})
	require.NoError(t, err)
	datagram = append(datagram, rf...)
	_, err = conn.Write(datagram)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		frames, _ := srv.Stats()
		return frames == 4
	}, 3*time.Second, 10*time.Millisecond)

	snap := p.Snapshot()
	assert.Len(t, snap.Predictions, 4)
	assert.Len(t, snap.Updates, 2)
	assert.Len(t, hub.messages(), 4)

	// A bad range count halts the estimator; later frames are counted as dropped.
	bad, err := EncodeRangeFrame(fusion.RangeSample{Sec: 2, Ranges: []float64{1, 2}})
	require.NoError(t, err)
	wf, err := EncodeWheelFrame(fusion.WheelSample{Sec: 3})
	require.NoError(t, err)
	_, err = conn.Write(append(bad, wf...))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, dropped := srv.Stats()
		return dropped == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, p.Err(), fusion.ErrMeasurementCount)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
