package nats

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher that keeps every event it is given.
// Activity tests use it in place of a JetStream connection.
type Recorder struct {
	mu     sync.Mutex
	events []*RandomnessEvent
	err    error
}

var _ Publisher = (*Recorder)(nil)

// PublishRandomness records event, or returns the error set by FailWith.
func (r *Recorder) PublishRandomness(_ context.Context, event *RandomnessEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// FailWith makes later publishes fail with err. A nil err clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns the recorded events in publish order. When address is
// given, only events for that randomness account are returned.
func (r *Recorder) Events(address ...string) []*RandomnessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*RandomnessEvent
	for _, e := range r.events {
		if len(address) == 0 || e.Address == address[0] {
			out = append(out, e)
		}
	}
	return out
}
