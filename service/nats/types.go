package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/orand/service/vrf"
)

// EventType is the lifecycle stage a RandomnessEvent reports.
type EventType string

const (
	EventRequested EventType = "requested"
	EventFulfilled EventType = "fulfilled"
	EventVerified  EventType = "verified"
)

// RandomnessEvent is published to "vrf.{type}.{address}" in JetStream.
type RandomnessEvent struct {
	Type    EventType `json:"type"`
	Seed    string    `json:"seed"`
	Network string    `json:"network"`
	Address string    `json:"address"`

	// Set on requested events when a transaction was submitted.
	RequestSignature string `json:"request_signature,omitempty"`
	Submitted        bool   `json:"submitted,omitempty"`

	// Set on fulfilled and verified events.
	Randomness string  `json:"randomness,omitempty"`
	Value      *uint64 `json:"value,omitempty"`

	// Set on verified events.
	FulfillmentSignature string     `json:"fulfillment_signature,omitempty"`
	Authority            string     `json:"authority,omitempty"`
	Verified             bool       `json:"verified"`
	Trusted              bool       `json:"trusted"`
	Slot                 uint64     `json:"slot,omitempty"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
	Error                string     `json:"error,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published on.
func (e *RandomnessEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, e.Type, e.Address)
}

// SubjectFilter returns the subject filter for events of type t about
// address. Empty values match everything.
func SubjectFilter(t EventType, address string) string {
	typ, addr := string(t), address
	if typ == "" {
		typ = "*"
	}
	if addr == "" {
		addr = "*"
	}
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, typ, addr)
}

// RequestedEvent builds the event for a request outcome.
func RequestedEvent(network vrf.Network, res *vrf.RequestResult) *RandomnessEvent {
	event := &RandomnessEvent{
		Type:        EventRequested,
		Seed:        res.Seed.String(),
		Network:     string(network),
		Address:     res.Address.String(),
		Submitted:   res.Submitted,
		PublishedAt: time.Now().UTC(),
	}
	if res.Signature != nil {
		event.RequestSignature = res.Signature.String()
	}
	return event
}

// FulfilledEvent builds the event for randomness read from the chain.
func FulfilledEvent(env vrf.Env, seed vrf.Seed, rnd *vrf.Randomness) *RandomnessEvent {
	event := &RandomnessEvent{
		Type:        EventFulfilled,
		Seed:        seed.String(),
		Network:     string(env.Network),
		Address:     env.RandomnessAddress(seed).String(),
		PublishedAt: time.Now().UTC(),
	}
	if rnd.Signature != nil {
		event.Randomness = rnd.Signature.String()
	}
	if v, ok := rnd.U64(); ok {
		event.Value = &v
	}
	return event
}

// VerifiedEvent builds the event for a verification outcome. A nil v with a
// non-nil err reports a failed verification.
func VerifiedEvent(env vrf.Env, seed vrf.Seed, v *vrf.Verification, verr error) *RandomnessEvent {
	event := &RandomnessEvent{
		Type:        EventVerified,
		Seed:        seed.String(),
		Network:     string(env.Network),
		Address:     env.RandomnessAddress(seed).String(),
		PublishedAt: time.Now().UTC(),
	}
	if verr != nil {
		event.Error = verr.Error()
	}
	if v == nil {
		return event
	}
	value := vrf.Randomness{Signature: &v.Randomness, Status: vrf.StatusFulfilled}
	if u, ok := value.U64(); ok {
		event.Value = &u
	}
	event.Randomness = v.Randomness.String()
	event.FulfillmentSignature = v.Transaction.String()
	event.Authority = v.Authority.String()
	event.Verified = verr == nil
	event.Trusted = v.Trusted
	event.Slot = v.Slot
	event.BlockTime = v.BlockTime
	return event
}
