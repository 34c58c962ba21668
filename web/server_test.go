package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pose-engine/fusion"
	"pose-engine/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func runPipeline(t *testing.T, ensemble bool) *fusion.Pipeline {
	t.Helper()
	cfg := fusion.DefaultConfig()
	cfg.EnsembleEnabled = &ensemble
	members := 10
	cfg.EnsembleMembers = &members
	p, err := fusion.NewPipeline(cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := p.HandleWheel(fusion.WheelSample{Sec: 1, Nanosec: uint32(i) * 1e8, Left: 2, Right: 2.2})
		require.NoError(t, err)
	}
	_, err = p.HandleRange(fusion.RangeSample{Sec: 1, Nanosec: 4e8, Ranges: []float64{8.5, 9.4, 9.5}})
	require.NoError(t, err)
	return p
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStateEndpoint(t *testing.T) {
	p := runPipeline(t, false)
	h := NewServer(p).Handler("")

	rec := get(t, h, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap fusion.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, p.RunID(), snap.RunID)
	assert.Len(t, snap.Predictions, 6)
	assert.Len(t, snap.Updates, 2)
	assert.Nil(t, snap.Ensemble)
}

func TestResetEndpoint(t *testing.T) {
	p := runPipeline(t, false)
	old := p.RunID()
	h := NewServer(p).Handler("")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, old, body["run_id"])
	assert.Equal(t, p.RunID(), body["run_id"])
	assert.Len(t, p.Snapshot().Predictions, 1)

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/api/reset").Code)
}

func TestChartPages(t *testing.T) {
	p := runPipeline(t, true)
	h := NewServer(p).Handler("")

	rec := get(t, h, "/charts/ekf")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "EKF trajectory")
	assert.Contains(t, rec.Body.String(), "Mahalanobis")

	rec = get(t, h, "/charts/ensemble")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "members=11")
}

func TestEnsembleChartDisabled(t *testing.T) {
	h := NewServer(runPipeline(t, false)).Handler("")
	rec := get(t, h, "/charts/ensemble")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ensemble disabled")
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir+"/index.html", "<h1>pose</h1>"))
	h := NewServer(runPipeline(t, false)).Handler(dir)

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>pose</h1>")
}

func TestDebugRoutes(t *testing.T) {
	p := runPipeline(t, false)
	ts := httptest.NewServer(NewServer(p).Handler(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), p.RunID())
}

// countingState records how often the full snapshot is taken.
type countingState struct {
	snapshots atomic.Int32
	err       error
}

func (c *countingState) Snapshot() fusion.Snapshot {
	c.snapshots.Add(1)
	return fusion.Snapshot{RunID: "run-debug"}
}

func (c *countingState) RunID() string { return "run-debug" }
func (c *countingState) Err() error    { return c.err }

func TestDebugPageSkipsSnapshot(t *testing.T) {
	state := &countingState{err: fusion.ErrCovariance}
	ts := httptest.NewServer(NewServer(state).Handler(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "run-debug")
	assert.Contains(t, string(body), fusion.ErrCovariance.Error())
	assert.Zero(t, state.snapshots.Load())
}

func TestWebSocketBroadcast(t *testing.T) {
	s := NewServer(runPipeline(t, false))
	go s.Hub.Run()
	defer s.Hub.Stop()
	ts := httptest.NewServer(s.Handler(""))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration is asynchronous; keep broadcasting until the viewer sees one.
	got := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- msg
		}
	}()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-got:
			assert.JSONEq(t, `{"type":"estimate"}`, string(msg))
			return
		case <-tick.C:
			s.Hub.Broadcast([]byte(`{"type":"estimate"}`))
		case <-deadline:
			t.Fatal("no message received")
		}
	}
}
