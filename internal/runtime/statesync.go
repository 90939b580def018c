package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// StateSync owns the host-side snapshots (identity and presentation) and
// keeps attached peers current with them. Delivery is fire-and-forget:
// a peer that cannot be reached right now is skipped, not retried.
//
// Peers that attach before their runtime finished booting are covered twice
// over: a settle-delayed resend after attach, and an immediate resend when
// the peer signals READY. Both carry the snapshot current at send time, so
// a late peer always converges on the final value.
type StateSync struct {
	reg    *Registry
	bus    *Bus
	settle time.Duration
	logger *slog.Logger

	mu           sync.Mutex
	identity     domain.IdentityState
	presentation domain.PresentationState
	timers       map[string]*time.Timer
}

// NewStateSync creates the snapshot broadcaster. The presentation snapshot
// starts at its default; identity starts signed out.
func NewStateSync(reg *Registry, bus *Bus, settle time.Duration, logger *slog.Logger) *StateSync {
	return &StateSync{
		reg:          reg,
		bus:          bus,
		settle:       settle,
		logger:       logger,
		presentation: domain.DefaultPresentation(),
		timers:       make(map[string]*time.Timer),
	}
}

// SetIdentity replaces the identity snapshot and pushes it to every attached peer.
func (s *StateSync) SetIdentity(state domain.IdentityState) {
	s.mu.Lock()
	s.identity = state
	s.mu.Unlock()
	s.broadcast(domain.ChannelIdentity)
}

// Identity returns the current identity snapshot.
func (s *StateSync) Identity() domain.IdentityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetPresentation replaces the presentation snapshot and pushes it to every
// attached peer.
func (s *StateSync) SetPresentation(state domain.PresentationState) error {
	if !state.Mode.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTheme, string(state.Mode))
	}
	s.mu.Lock()
	s.presentation = state
	s.mu.Unlock()
	s.broadcast(domain.ChannelPresentation)
	return nil
}

// Presentation returns the current presentation snapshot.
func (s *StateSync) Presentation() domain.PresentationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presentation
}

// PeerAttached arms the settle-delayed resend for a freshly attached peer.
// The delay gives the embedded runtime a moment to boot; the snapshot is read
// when the timer fires, so changes during the window are not lost.
func (s *StateSync) PeerAttached(peer domain.Peer) {
	id := peer.ID
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.settle, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.Resend(id)
	})
	s.mu.Unlock()
}

// PeerReady resends immediately. READY supersedes the settle timer; the peer
// told us it can process, no point waiting out the delay.
func (s *StateSync) PeerReady(peer domain.Peer) {
	s.stopTimer(peer.ID)
	s.Resend(peer.ID)
}

// PeerDetached cancels any pending resend for the peer.
func (s *StateSync) PeerDetached(peer domain.Peer) {
	s.stopTimer(peer.ID)
}

// Stop cancels all pending resends. Called on hub shutdown.
func (s *StateSync) Stop() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// Resend pushes both snapshots to one peer, identity first.
func (s *StateSync) Resend(peerID string) {
	_, link, ok := s.reg.Lookup(peerID)
	if !ok {
		return
	}
	identity, presentation := s.snapshots()
	ctx := context.Background()
	_ = s.bus.Send(ctx, peerID, link, domain.NewIdentityPush(identity))
	_ = s.bus.Send(ctx, peerID, link, domain.NewPresentationPush(presentation))
}

// HandlePull answers a peer's explicit snapshot request on the matching push
// channel. Unknown request channels were already filtered by the subscription.
func (s *StateSync) HandlePull(ctx context.Context, peer domain.Peer, link ports.Link, d domain.Delivery) {
	push, ok := d.Envelope.Channel.ResponseChannel()
	if !ok {
		return
	}
	identity, presentation := s.snapshots()
	switch push {
	case domain.ChannelIdentity:
		_ = s.bus.Send(ctx, peer.ID, link, domain.NewIdentityPush(identity))
	case domain.ChannelPresentation:
		_ = s.bus.Send(ctx, peer.ID, link, domain.NewPresentationPush(presentation))
	}
	s.logger.Debug("snapshot pull answered", "peer", peer.ID, "channel", push)
}

func (s *StateSync) snapshots() (domain.IdentityState, domain.PresentationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.presentation
}

func (s *StateSync) stopTimer(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// broadcast pushes the named snapshot to every attached peer. Send failures
// are advisory and already logged by the bus; one slow peer must not stall
// the rest.
func (s *StateSync) broadcast(ch domain.Channel) {
	identity, presentation := s.snapshots()
	var env domain.Envelope
	switch ch {
	case domain.ChannelIdentity:
		env = domain.NewIdentityPush(identity)
	case domain.ChannelPresentation:
		env = domain.NewPresentationPush(presentation)
	default:
		return
	}

	ctx := context.Background()
	for _, peer := range s.reg.List() {
		_, link, ok := s.reg.Lookup(peer.ID)
		if !ok {
			continue
		}
		_ = s.bus.Send(ctx, peer.ID, link, env)
	}
}
