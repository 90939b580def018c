package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/google/uuid"
)

// Default tuning for the bridge. Both are option-tunable at the facade.
const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultCallTimeout = 5 * time.Second
)

// Config carries the resolved settings for a hub core.
type Config struct {
	// Origins is the complete inbound allow-list, host origin included.
	Origins []string

	// SettleDelay is how long after attach the state resend waits.
	SettleDelay time.Duration

	// CallTimeout bounds operation calls without a family-specific deadline.
	CallTimeout time.Duration

	// FamilyTimeouts overrides CallTimeout per operation family.
	FamilyTimeouts map[string]time.Duration

	Logger *slog.Logger
	Hooks  domain.LifecycleHooks

	// NewID mints correlation IDs. Defaults to UUIDs.
	NewID func() string
}

type bridgeKey struct {
	peer   string
	family string
}

// Hub is the core of the bridge: it owns the dispatch loop, the peer
// registry, the state broadcaster, and the per-(peer, family) request
// bridges. The exported facade in the root package wraps it.
type Hub struct {
	feed    ports.Feed
	bus     *Bus
	reg     *Registry
	state   *StateSync
	origins *domain.OriginSet
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
	newID   func() string

	callTimeout    time.Duration
	familyTimeouts map[string]time.Duration

	mu      sync.Mutex
	bridges map[bridgeKey]*Bridge
	closed  bool
}

// NewHub wires a hub core around the given inbound feed.
func NewHub(feed ports.Feed, cfg Config) (*Hub, error) {
	if feed == nil {
		return nil, fmt.Errorf("inbound feed required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	origins, err := domain.NewOriginSet(cfg.Origins...)
	if err != nil {
		return nil, fmt.Errorf("origin allow-list: %w", err)
	}

	bus := NewBus(origins, logger, cfg.Hooks)
	reg := NewRegistry(logger, cfg.Hooks)
	state := NewStateSync(reg, bus, settle, logger)

	h := &Hub{
		feed:           feed,
		bus:            bus,
		reg:            reg,
		state:          state,
		origins:        origins,
		logger:         logger,
		hooks:          cfg.Hooks,
		newID:          newID,
		callTimeout:    timeout,
		familyTimeouts: cfg.FamilyTimeouts,
		bridges:        make(map[bridgeKey]*Bridge),
	}

	reg.OnAttach(state.PeerAttached)
	reg.OnDetach(state.PeerDetached)
	reg.OnReady(state.PeerReady)
	reg.OnDetach(h.failDetached)

	bus.Subscribe(OnChannels(domain.ChannelReady), h.authenticated(h.handleReady))
	bus.Subscribe(OnChannels(domain.ChannelIdentityRequest, domain.ChannelPresentationRequest), h.authenticated(state.HandlePull))
	bus.Subscribe(OnChannels(domain.ChannelOpResult), h.authenticated(h.handleOpResult))

	return h, nil
}

// Run consumes the inbound feed until ctx is canceled or the transport
// closes, dispatching each datagram on this goroutine. The single pump is
// what gives subscribers arrival-order delivery.
func (h *Hub) Run(ctx context.Context) error {
	stream, err := h.feed.Receive(ctx)
	if err != nil {
		return fmt.Errorf("open inbound feed: %w", err)
	}
	h.logger.Info("hub running", "origins", h.origins.List())

	for dg := range stream {
		h.bus.Dispatch(ctx, dg)
	}

	h.logger.Info("inbound feed closed")
	return h.Close()
}

// Close shuts the hub down: pending calls resolve as detached, settle timers
// stop, and every peer detaches. Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	bridges := make([]*Bridge, 0, len(h.bridges))
	for _, br := range h.bridges {
		bridges = append(bridges, br)
	}
	h.mu.Unlock()

	ctx := context.Background()
	for _, br := range bridges {
		br.FailAll(ctx, domain.FailureDetached, "hub closed")
	}
	h.state.Stop()
	for _, peer := range h.reg.List() {
		_ = h.reg.Detach(peer.ID)
	}
	h.logger.Info("hub closed")
	return nil
}

// Attach registers a live peer connection. Attaching over a live ID detaches
// the previous connection first.
func (h *Hub) Attach(peer domain.Peer, link ports.Link) error {
	if h.isClosed() {
		return domain.ErrHubClosed
	}
	return h.reg.Attach(peer, link)
}

// Detach removes a peer connection. In-flight calls against it resolve as
// detached immediately rather than waiting out their deadlines.
func (h *Hub) Detach(peerID string) error {
	if h.isClosed() {
		return domain.ErrHubClosed
	}
	return h.reg.Detach(peerID)
}

// SetIdentity replaces the identity snapshot and pushes it to attached peers.
func (h *Hub) SetIdentity(state domain.IdentityState) error {
	if h.isClosed() {
		return domain.ErrHubClosed
	}
	h.state.SetIdentity(state)
	return nil
}

// Identity returns the current identity snapshot.
func (h *Hub) Identity() domain.IdentityState {
	return h.state.Identity()
}

// SetPresentation replaces the presentation snapshot and pushes it to
// attached peers.
func (h *Hub) SetPresentation(state domain.PresentationState) error {
	if h.isClosed() {
		return domain.ErrHubClosed
	}
	return h.state.SetPresentation(state)
}

// Presentation returns the current presentation snapshot.
func (h *Hub) Presentation() domain.PresentationState {
	return h.state.Presentation()
}

// Call invokes one operation on a peer and waits for its outcome. family
// selects the deadline configuration; an empty family uses the default.
func (h *Hub) Call(ctx context.Context, peerID, family string, req domain.OpRequest) (domain.OpResult, error) {
	if h.isClosed() {
		return domain.OpResult{}, domain.ErrHubClosed
	}
	return h.bridge(peerID, family).Call(ctx, req)
}

// Ready reports whether the peer is attached and has signaled READY.
func (h *Hub) Ready(peerID string) bool {
	return h.reg.Ready(peerID)
}

// Peers returns the attached peers sorted by ID.
func (h *Hub) Peers() []domain.Peer {
	return h.reg.List()
}

// ReplaceOrigins swaps the inbound allow-list. Used on catalog reload; the
// caller composes the full list, host origin included.
func (h *Hub) ReplaceOrigins(origins []string) error {
	return h.origins.Replace(origins)
}

// Origins returns the normalized allow-list members.
func (h *Hub) Origins() []string {
	return h.origins.List()
}

// SetFamilyTimeout configures the deadline for an operation family. Only
// affects bridges created afterwards, so catalogs apply it before calls start.
func (h *Hub) SetFamilyTimeout(family string, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.familyTimeouts == nil {
		h.familyTimeouts = make(map[string]time.Duration)
	}
	h.familyTimeouts[family] = timeout
}

func (h *Hub) bridge(peerID, family string) *Bridge {
	if family == "" {
		family = "default"
	}
	key := bridgeKey{peer: peerID, family: family}

	h.mu.Lock()
	defer h.mu.Unlock()
	if br, ok := h.bridges[key]; ok {
		return br
	}
	timeout := h.callTimeout
	if t, ok := h.familyTimeouts[family]; ok && t > 0 {
		timeout = t
	}
	br := NewBridge(peerID, family, timeout, h.reg, h.bus, h.logger, h.hooks, h.newID)
	h.bridges[key] = br
	return br
}

func (h *Hub) bridgesFor(peerID string) []*Bridge {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Bridge, 0, 2)
	for key, br := range h.bridges {
		if key.peer == peerID {
			out = append(out, br)
		}
	}
	return out
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// authenticated wraps a handler with sender attribution: the delivery must
// come from an attached peer, over that peer's pinned origin when one is set.
func (h *Hub) authenticated(next func(context.Context, domain.Peer, ports.Link, domain.Delivery)) Handler {
	return func(ctx context.Context, d domain.Delivery) {
		peer, link, ok := h.reg.ResolveDelivery(d)
		if !ok {
			h.logger.Debug("message from unattached or mismatched peer dropped", "peer", d.PeerID, "channel", d.Envelope.Channel)
			emitDropped(ctx, h.hooks, d.PeerID, d.Origin, d.Envelope.Channel, domain.DropUnknownPeer)
			return
		}
		next(ctx, peer, link, d)
	}
}

func (h *Hub) handleReady(ctx context.Context, peer domain.Peer, link ports.Link, d domain.Delivery) {
	_, transitioned, ok := h.reg.MarkReady(peer.ID)
	if !ok {
		return
	}
	if !transitioned {
		// The peer runtime rebooted without a detach. Refresh its snapshots;
		// readiness itself is unchanged.
		h.logger.Debug("duplicate READY, resending snapshots", "peer", peer.ID)
		h.state.Resend(peer.ID)
	}
}

func (h *Hub) handleOpResult(ctx context.Context, peer domain.Peer, link ports.Link, d domain.Delivery) {
	for _, br := range h.bridgesFor(peer.ID) {
		if br.TryResolve(ctx, d) {
			return
		}
	}
	// Stale or duplicate result; whatever call it answered already settled.
	h.logger.Debug("unmatched operation result dropped", "peer", peer.ID, "correlation_id", d.Envelope.CorrelationID)
	emitDropped(ctx, h.hooks, peer.ID, d.Origin, d.Envelope.Channel, domain.DropUnknownCorrelation)
}

func (h *Hub) failDetached(peer domain.Peer) {
	for _, br := range h.bridgesFor(peer.ID) {
		br.FailAll(context.Background(), domain.FailureDetached, "peer detached")
	}
}
