package net

import (
	"sync"

	"github.com/netcore-run/netcore/errors"
)

// event is a device-attached synchronization token with states
// {unset, recorded}, mirroring Caffe2's internal::Event. It is
// allocated once per chain any of whose nodes has a consumer in
// another chain; CPU-only chains never allocate one (spec's open-question
// decision: host synchronization at Run() exit covers them).
type event struct {
	mu         sync.Mutex
	recorded   bool
	outstanding bool
	done       chan struct{}
}

func newEvent() *event {
	return &event{done: make(chan struct{})}
}

// record marks the event recorded, matching Event::record: recording
// an already-outstanding event twice within the same net iteration
// without an intervening reset is an invariant violation.
func (e *event) record() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outstanding {
		return errors.E("net.event.record", errors.DeviceError,
			errors.New("event recorded twice without an intervening reset"))
	}
	e.recorded = true
	e.outstanding = true
	close(e.done)
	return nil
}

// wait blocks until the event has been recorded. Cross-device waits
// are expressed this way rather than by busy-wait.
func (e *event) wait() {
	<-e.done
}

// reset returns the event to its unset state at the start of a new
// Run() call, matching AsyncDAGNet::Run's per-call eventRecorded_
// reset.
func (e *event) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outstanding {
		e.done = make(chan struct{})
	}
	e.recorded = false
	e.outstanding = false
}

// stream models a per-device ordered submission queue. In this
// single-process simulation a stream's Wait is simply "block until
// the referenced event is recorded"; Run submits chain operators in
// program order, matching intra-chain and intra-stream ordering
// guarantees.
type stream struct{}

func (stream) wait(events ...*event) {
	for _, e := range events {
		if e != nil {
			e.wait()
		}
	}
}
