package server

import (
	"encoding/json"
	"errors"
	"sync"

	"pose-engine/fusion"
	"pose-engine/monitoring"
)

// Sink applies samples to an estimator.
type Sink interface {
	HandleWheel(fusion.WheelSample) (fusion.Estimate, error)
	HandleRange(fusion.RangeSample) (fusion.Estimate, error)
	RunID() string
}

// Broadcaster pushes messages to live viewers.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// Publisher forwards estimates to downstream consumers.
type Publisher interface {
	Publish(est fusion.Estimate)
	PublishFault(runID string, err error)
}

// LiveMessage is the JSON pushed to viewers for every processed sample.
type LiveMessage struct {
	Type     string           `json:"type"`
	Estimate *fusion.Estimate `json:"estimate,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Dispatcher feeds samples from any number of sources into one sink, one at a
// time, and fans the resulting estimates out.
type Dispatcher struct {
	mu      sync.Mutex
	sink    Sink
	hub     Broadcaster
	pub     Publisher
	onFault func(error)
}

func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

func (d *Dispatcher) SetWebHub(b Broadcaster) {
	d.mu.Lock()
	d.hub = b
	d.mu.Unlock()
}

func (d *Dispatcher) SetPublisher(p Publisher) {
	d.mu.Lock()
	d.pub = p
	d.mu.Unlock()
}

// OnFault registers a callback invoked once per fatal estimator error.
func (d *Dispatcher) OnFault(f func(error)) {
	d.mu.Lock()
	d.onFault = f
	d.mu.Unlock()
}

// Dispatch applies one sample. Errors wrapping fusion.ErrHalted mean the fault
// was already reported.
func (d *Dispatcher) Dispatch(s Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var est fusion.Estimate
	var err error
	if s.Kind == RangeKind {
		est, err = d.sink.HandleRange(s.Range)
	} else {
		est, err = d.sink.HandleWheel(s.Wheel)
	}
	if err != nil {
		if !errors.Is(err, fusion.ErrHalted) {
			d.reportFault(err)
		}
		return err
	}

	if d.hub != nil {
		if b, err := json.Marshal(LiveMessage{Type: "estimate", Estimate: &est}); err == nil {
			d.hub.Broadcast(b)
		}
	}
	if d.pub != nil {
		d.pub.Publish(est)
	}
	return nil
}

func (d *Dispatcher) reportFault(err error) {
	runID := d.sink.RunID()
	monitoring.Logf("estimator %s halted: %v", runID, err)
	if d.hub != nil {
		if b, merr := json.Marshal(LiveMessage{Type: "fault", RunID: runID, Error: err.Error()}); merr == nil {
			d.hub.Broadcast(b)
		}
	}
	if d.pub != nil {
		d.pub.PublishFault(runID, err)
	}
	if d.onFault != nil {
		d.onFault(err)
	}
}
