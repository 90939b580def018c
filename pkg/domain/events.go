package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventEnvelopeSent    EventType = "envelope_sent"
	EventEnvelopeDropped EventType = "envelope_dropped"
	EventPeerAttached    EventType = "peer_attached"
	EventPeerReady       EventType = "peer_ready"
	EventPeerDetached    EventType = "peer_detached"
	EventCallResolved    EventType = "call_resolved"
)

// DropReason explains why an inbound or outbound envelope was discarded.
type DropReason string

const (
	DropForeignOrigin      DropReason = "foreign_origin"      // Sender origin not on the allow-list
	DropMalformed          DropReason = "malformed"           // Message failed parse or validation
	DropUnknownCorrelation DropReason = "unknown_correlation" // OP_RESULT with no pending call
	DropUnknownPeer        DropReason = "unknown_peer"        // Attributed to a peer that is not attached
	DropSendFailure        DropReason = "send_failure"        // Outbound post failed at the transport
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// EnvelopeEvent describes one envelope sent or dropped.
type EnvelopeEvent struct {
	EventBase
	PeerID  string     `json:"peer_id,omitempty"`
	Origin  string     `json:"origin,omitempty"`
	Channel Channel    `json:"channel,omitempty"`
	Reason  DropReason `json:"reason,omitempty"`
}

// PeerEvent describes a peer lifecycle change.
type PeerEvent struct {
	EventBase
	PeerID string `json:"peer_id"`
	Origin string `json:"origin,omitempty"`
}

// CallEvent describes the settled outcome of one operation call.
type CallEvent struct {
	EventBase
	PeerID  string        `json:"peer_id"`
	Family  string        `json:"family"`
	Action  string        `json:"action"`
	Outcome string        `json:"outcome"` // OutcomeSuccess or a FailureKind
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// OutcomeSuccess is the CallEvent outcome for calls that resolved with a result.
const OutcomeSuccess = "success"

// OutcomeOf maps a call result error to its event outcome label.
func OutcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if ce, ok := AsCallError(err); ok {
		return string(ce.Kind)
	}
	return string(FailureTransport)
}

// LifecycleHooks defines callbacks for bridge observability.
type LifecycleHooks struct {
	OnEnvelopeSent    func(context.Context, *EnvelopeEvent)
	OnEnvelopeDropped func(context.Context, *EnvelopeEvent)
	OnPeerAttached    func(context.Context, *PeerEvent)
	OnPeerReady       func(context.Context, *PeerEvent)
	OnPeerDetached    func(context.Context, *PeerEvent)
	OnCallResolved    func(context.Context, *CallEvent)
}

// MergeHooks composes hook sets; each callback fires in argument order.
func MergeHooks(hooks ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range hooks {
		out = out.merge(h)
	}
	return out
}

func (a LifecycleHooks) merge(b LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnEnvelopeSent:    chainEnvelope(a.OnEnvelopeSent, b.OnEnvelopeSent),
		OnEnvelopeDropped: chainEnvelope(a.OnEnvelopeDropped, b.OnEnvelopeDropped),
		OnPeerAttached:    chainPeer(a.OnPeerAttached, b.OnPeerAttached),
		OnPeerReady:       chainPeer(a.OnPeerReady, b.OnPeerReady),
		OnPeerDetached:    chainPeer(a.OnPeerDetached, b.OnPeerDetached),
		OnCallResolved:    chainCall(a.OnCallResolved, b.OnCallResolved),
	}
}

func chainEnvelope(a, b func(context.Context, *EnvelopeEvent)) func(context.Context, *EnvelopeEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *EnvelopeEvent) {
		a(ctx, ev)
		b(ctx, ev)
	}
}

func chainPeer(a, b func(context.Context, *PeerEvent)) func(context.Context, *PeerEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *PeerEvent) {
		a(ctx, ev)
		b(ctx, ev)
	}
}

func chainCall(a, b func(context.Context, *CallEvent)) func(context.Context, *CallEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *CallEvent) {
		a(ctx, ev)
		b(ctx, ev)
	}
}
