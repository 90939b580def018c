package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

type peerEntry struct {
	peer  domain.Peer
	link  ports.Link
	ready bool
}

// Registry tracks live peer connections and their readiness. Attachment and
// detachment notify registered observers; observers run outside the registry
// lock so they may call back into it.
type Registry struct {
	logger *slog.Logger
	hooks  domain.LifecycleHooks

	mu       sync.RWMutex
	peers    map[string]*peerEntry
	onAttach []func(domain.Peer)
	onDetach []func(domain.Peer)
	onReady  []func(domain.Peer)
}

// NewRegistry creates an empty peer registry.
func NewRegistry(logger *slog.Logger, hooks domain.LifecycleHooks) *Registry {
	return &Registry{
		logger: logger,
		hooks:  hooks,
		peers:  make(map[string]*peerEntry),
	}
}

// OnAttach registers an observer fired after a peer attaches.
func (r *Registry) OnAttach(fn func(domain.Peer)) {
	r.mu.Lock()
	r.onAttach = append(r.onAttach, fn)
	r.mu.Unlock()
}

// OnDetach registers an observer fired after a peer detaches.
func (r *Registry) OnDetach(fn func(domain.Peer)) {
	r.mu.Lock()
	r.onDetach = append(r.onDetach, fn)
	r.mu.Unlock()
}

// OnReady registers an observer fired when a peer first signals READY.
func (r *Registry) OnReady(fn func(domain.Peer)) {
	r.mu.Lock()
	r.onReady = append(r.onReady, fn)
	r.mu.Unlock()
}

// Attach registers a live peer connection. Attaching an ID that is already
// live detaches the previous connection first: in-flight work against the old
// connection fails as detached, and readiness starts over.
func (r *Registry) Attach(peer domain.Peer, link ports.Link) error {
	if peer.ID == "" {
		return fmt.Errorf("peer id required")
	}
	if link == nil {
		return fmt.Errorf("peer %s: link required", peer.ID)
	}
	if peer.Origin != "" {
		norm, err := domain.NormalizeOrigin(peer.Origin)
		if err != nil {
			return fmt.Errorf("peer %s: %w", peer.ID, err)
		}
		peer.Origin = norm
	}

	r.mu.Lock()
	replaced, had := r.peers[peer.ID]
	r.peers[peer.ID] = &peerEntry{peer: peer, link: link}
	r.mu.Unlock()

	if had {
		r.logger.Info("peer re-attached, previous connection detached", "peer", peer.ID)
		r.notifyDetach(replaced.peer)
	}
	r.logger.Info("peer attached", "peer", peer.ID, "origin", peer.Origin)
	r.notifyAttach(peer)
	return nil
}

// Detach removes a peer connection.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	entry, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("detach %s: %w", id, domain.ErrPeerNotFound)
	}
	r.logger.Info("peer detached", "peer", id)
	r.notifyDetach(entry.peer)
	return nil
}

// MarkReady records that a peer signaled READY. transitioned is true only on
// the first signal for the current connection; duplicates are tolerated.
func (r *Registry) MarkReady(id string) (peer domain.Peer, transitioned, ok bool) {
	r.mu.Lock()
	entry, found := r.peers[id]
	if !found {
		r.mu.Unlock()
		return domain.Peer{}, false, false
	}
	peer = entry.peer
	transitioned = !entry.ready
	entry.ready = true
	r.mu.Unlock()

	if transitioned {
		r.logger.Info("peer ready", "peer", id)
		r.notifyReady(peer)
	}
	return peer, transitioned, true
}

// Lookup returns the live connection for a peer ID.
func (r *Registry) Lookup(id string) (domain.Peer, ports.Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, nil, false
	}
	return entry.peer, entry.link, true
}

// Ready reports whether the peer is attached and has signaled READY.
func (r *Registry) Ready(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.peers[id]
	return ok && entry.ready
}

// List returns the attached peers sorted by ID.
func (r *Registry) List() []domain.Peer {
	r.mu.RLock()
	out := make([]domain.Peer, 0, len(r.peers))
	for _, entry := range r.peers {
		out = append(out, entry.peer)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveDelivery authenticates an inbound delivery against the registry:
// the sender must be attached, and when its registered origin is pinned, the
// transport-reported origin must match it.
func (r *Registry) ResolveDelivery(d domain.Delivery) (domain.Peer, ports.Link, bool) {
	peer, link, ok := r.Lookup(d.PeerID)
	if !ok {
		return domain.Peer{}, nil, false
	}
	if peer.Origin != "" {
		norm, err := domain.NormalizeOrigin(d.Origin)
		if err != nil || norm != peer.Origin {
			return domain.Peer{}, nil, false
		}
	}
	return peer, link, true
}

func (r *Registry) observers(pick func() []func(domain.Peer)) []func(domain.Peer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := pick()
	out := make([]func(domain.Peer), len(src))
	copy(out, src)
	return out
}

func (r *Registry) notifyAttach(peer domain.Peer) {
	for _, fn := range r.observers(func() []func(domain.Peer) { return r.onAttach }) {
		fn(peer)
	}
	if r.hooks.OnPeerAttached != nil {
		r.hooks.OnPeerAttached(context.Background(), r.peerEvent(domain.EventPeerAttached, peer))
	}
}

func (r *Registry) notifyDetach(peer domain.Peer) {
	for _, fn := range r.observers(func() []func(domain.Peer) { return r.onDetach }) {
		fn(peer)
	}
	if r.hooks.OnPeerDetached != nil {
		r.hooks.OnPeerDetached(context.Background(), r.peerEvent(domain.EventPeerDetached, peer))
	}
}

func (r *Registry) notifyReady(peer domain.Peer) {
	for _, fn := range r.observers(func() []func(domain.Peer) { return r.onReady }) {
		fn(peer)
	}
	if r.hooks.OnPeerReady != nil {
		r.hooks.OnPeerReady(context.Background(), r.peerEvent(domain.EventPeerReady, peer))
	}
}

func (r *Registry) peerEvent(t domain.EventType, peer domain.Peer) *domain.PeerEvent {
	return &domain.PeerEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: t},
		PeerID:    peer.ID,
		Origin:    peer.Origin,
	}
}
