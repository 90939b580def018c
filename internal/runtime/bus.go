package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Filter decides whether a subscription wants a delivery.
type Filter func(domain.Delivery) bool

// Handler consumes one delivery. Handlers run on the dispatch goroutine, so
// they must not block; slow work belongs behind a channel.
type Handler func(context.Context, domain.Delivery)

type subscription struct {
	id      int
	filter  Filter
	handler Handler
}

// Bus is the guarded doorway between raw transport messages and the rest of
// the hub. Inbound traffic is origin-checked before it is even parsed;
// outbound traffic is serialized and posted through the peer's link.
//
// Dispatch is driven by a single pump goroutine, which gives subscribers
// arrival-order delivery for free.
type Bus struct {
	origins *domain.OriginSet
	logger  *slog.Logger
	hooks   domain.LifecycleHooks

	mu     sync.Mutex
	subs   []*subscription
	nextID int
}

// NewBus creates a bus that admits inbound traffic from the given origins only.
func NewBus(origins *domain.OriginSet, logger *slog.Logger, hooks domain.LifecycleHooks) *Bus {
	return &Bus{
		origins: origins,
		logger:  logger,
		hooks:   hooks,
	}
}

// Subscribe registers a handler for deliveries matching filter. A nil filter
// matches everything. The returned cancel removes the subscription.
func (b *Bus) Subscribe(filter Filter, handler Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, filter: filter, handler: handler}
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// OnChannels builds a filter matching any of the given channels.
func OnChannels(channels ...domain.Channel) Filter {
	return func(d domain.Delivery) bool {
		for _, ch := range channels {
			if d.Envelope.Channel == ch {
				return true
			}
		}
		return false
	}
}

// Dispatch filters, parses and routes one raw inbound message.
// The origin gate runs before JSON parsing: messages from foreign origins
// never reach the decoder.
func (b *Bus) Dispatch(ctx context.Context, dg ports.Datagram) {
	if !b.origins.Allows(dg.Origin) {
		b.logger.Debug("inbound message from foreign origin dropped", "peer", dg.PeerID, "origin", dg.Origin)
		b.emitDropped(ctx, dg.PeerID, dg.Origin, "", domain.DropForeignOrigin)
		return
	}

	env, err := domain.ParseEnvelope(dg.Data)
	if err != nil {
		b.logger.Debug("malformed inbound message dropped", "peer", dg.PeerID, "error", err)
		b.emitDropped(ctx, dg.PeerID, dg.Origin, "", domain.DropMalformed)
		return
	}

	delivery := domain.Delivery{PeerID: dg.PeerID, Origin: dg.Origin, Envelope: env}

	b.mu.Lock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(delivery) {
			continue
		}
		b.invoke(ctx, sub, delivery)
	}
}

// invoke shields the dispatch loop from a panicking handler. One bad
// subscriber must not take down message processing for everyone else.
func (b *Bus) invoke(ctx context.Context, sub *subscription, d domain.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "channel", d.Envelope.Channel, "peer", d.PeerID, "panic", r)
		}
	}()
	sub.handler(ctx, d)
}

// Send serializes env and posts it through the peer's link. The returned
// error is advisory: transports acknowledge acceptance, never delivery.
func (b *Bus) Send(ctx context.Context, peerID string, link ports.Link, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("envelope marshal failed", "peer", peerID, "channel", env.Channel, "error", err)
		b.emitDropped(ctx, peerID, link.Origin(), env.Channel, domain.DropSendFailure)
		return err
	}

	if err := link.Post(data); err != nil {
		b.logger.Warn("outbound post failed", "peer", peerID, "channel", env.Channel, "error", err)
		b.emitDropped(ctx, peerID, link.Origin(), env.Channel, domain.DropSendFailure)
		return err
	}

	b.logger.Debug("envelope sent", "peer", peerID, "channel", env.Channel)
	if b.hooks.OnEnvelopeSent != nil {
		b.hooks.OnEnvelopeSent(ctx, &domain.EnvelopeEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventEnvelopeSent},
			PeerID:    peerID,
			Origin:    link.Origin(),
			Channel:   env.Channel,
		})
	}
	return nil
}

func (b *Bus) emitDropped(ctx context.Context, peerID, origin string, ch domain.Channel, reason domain.DropReason) {
	emitDropped(ctx, b.hooks, peerID, origin, ch, reason)
}

func emitDropped(ctx context.Context, hooks domain.LifecycleHooks, peerID, origin string, ch domain.Channel, reason domain.DropReason) {
	if hooks.OnEnvelopeDropped == nil {
		return
	}
	hooks.OnEnvelopeDropped(ctx, &domain.EnvelopeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventEnvelopeDropped},
		PeerID:    peerID,
		Origin:    origin,
		Channel:   ch,
		Reason:    reason,
	})
}
