package pergola

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Hub is the high-level entry point for the Pergola library.
// It wraps the internal runtime and provides a simplified API for hosts.
type Hub struct {
	core    *runtime.Hub
	catalog ports.Catalog
	logger  *slog.Logger

	hostOrigin     string
	staticOrigins  []string
	settleDelay    time.Duration
	callTimeout    time.Duration
	familyTimeouts map[string]time.Duration
	theme          domain.ThemeMode
	hooks          domain.LifecycleHooks
	newID          func() string
}

// Option defines a functional option for configuring the Hub.
type Option func(*Hub)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(h *Hub) {
		h.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the hub.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithHostOrigin declares the origin the host document itself is served from.
// It is always part of the allow-list: same-origin messages are never foreign.
func WithHostOrigin(origin string) Option {
	return func(h *Hub) {
		h.hostOrigin = origin
	}
}

// WithOrigins adds peer origins to the inbound allow-list.
func WithOrigins(origins ...string) Option {
	return func(h *Hub) {
		h.staticOrigins = append(h.staticOrigins, origins...)
	}
}

// WithCatalog attaches a peer catalog. Manifest origins join the allow-list
// and manifest families contribute call deadlines.
func WithCatalog(catalog ports.Catalog) Option {
	return func(h *Hub) {
		h.catalog = catalog
	}
}

// WithSettleDelay tunes the post-attach state resend delay.
func WithSettleDelay(d time.Duration) Option {
	return func(h *Hub) {
		h.settleDelay = d
	}
}

// WithCallTimeout tunes the default operation call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.callTimeout = d
	}
}

// WithFamilyTimeout sets the call deadline for one operation family.
func WithFamilyTimeout(family string, d time.Duration) Option {
	return func(h *Hub) {
		if h.familyTimeouts == nil {
			h.familyTimeouts = make(map[string]time.Duration)
		}
		h.familyTimeouts[family] = d
	}
}

// WithTheme sets the initial presentation mode (default: light).
func WithTheme(mode domain.ThemeMode) Option {
	return func(h *Hub) {
		h.theme = mode
	}
}

// WithIDGenerator overrides correlation ID minting. Mostly useful in tests.
func WithIDGenerator(fn func() string) Option {
	return func(h *Hub) {
		h.newID = fn
	}
}

// New initializes a Pergola Hub around the given inbound feed.
// The allow-list is composed from WithHostOrigin, WithOrigins, and the
// catalog's manifests when WithCatalog is provided.
func New(feed ports.Feed, opts ...Option) (*Hub, error) {
	h := &Hub{}
	for _, opt := range opts {
		opt(h)
	}

	// Ensure logger is initialized (so we don't pass nil to runtime, which
	// would overwrite its default).
	if h.logger == nil {
		h.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	origins, err := h.composeOrigins(context.Background())
	if err != nil {
		return nil, err
	}
	if len(origins) == 0 {
		h.logger.Warn("origin allow-list is empty; every inbound message will be dropped")
	}

	core, err := runtime.NewHub(feed, runtime.Config{
		Origins:        origins,
		SettleDelay:    h.settleDelay,
		CallTimeout:    h.callTimeout,
		FamilyTimeouts: h.familyTimeouts,
		Logger:         h.logger,
		Hooks:          h.hooks,
		NewID:          h.newID,
	})
	if err != nil {
		return nil, err
	}
	h.core = core

	if h.theme != "" {
		if err := core.SetPresentation(domain.PresentationState{Mode: h.theme}); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Run consumes the inbound feed until ctx is canceled or the transport
// closes. Most hosts run it on a dedicated goroutine.
func (h *Hub) Run(ctx context.Context) error {
	return h.core.Run(ctx)
}

// Close shuts the hub down. Pending calls fail as detached and all peers
// detach. Idempotent.
func (h *Hub) Close() error {
	return h.core.Close()
}

// Attach registers a live peer connection. Attaching over a live ID replaces
// the previous connection: its in-flight calls fail as detached and
// readiness starts over. IDs the catalog knows are pinned: the declared
// origin must match the manifest origin, or the attach is refused.
func (h *Hub) Attach(peer domain.Peer, link ports.Link) error {
	if h.catalog != nil {
		if manifest, err := h.catalog.Get(context.Background(), peer.ID); err == nil && manifest.Origin != "" {
			want, werr := domain.NormalizeOrigin(manifest.Origin)
			got, gerr := domain.NormalizeOrigin(peer.Origin)
			if werr == nil && (gerr != nil || got != want) {
				return fmt.Errorf("peer %s: origin %q does not match its manifest", peer.ID, peer.Origin)
			}
		}
	}
	return h.core.Attach(peer, link)
}

// AttachFromCatalog attaches a peer using its catalog manifest for identity.
func (h *Hub) AttachFromCatalog(ctx context.Context, id string, link ports.Link) error {
	if h.catalog == nil {
		return fmt.Errorf("no catalog configured")
	}
	manifest, err := h.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", id, err)
	}
	return h.core.Attach(manifest.PeerView(), link)
}

// Detach removes a peer connection. Its in-flight calls fail as detached
// immediately instead of waiting out their deadlines.
func (h *Hub) Detach(peerID string) error {
	return h.core.Detach(peerID)
}

// SetIdentity replaces the identity snapshot and pushes it to attached peers.
func (h *Hub) SetIdentity(state domain.IdentityState) error {
	return h.core.SetIdentity(state)
}

// Identity returns the current identity snapshot.
func (h *Hub) Identity() domain.IdentityState {
	return h.core.Identity()
}

// SetTheme switches the presentation mode and pushes it to attached peers.
func (h *Hub) SetTheme(mode domain.ThemeMode) error {
	return h.core.SetPresentation(domain.PresentationState{Mode: mode})
}

// Theme returns the current presentation mode.
func (h *Hub) Theme() domain.ThemeMode {
	return h.core.Presentation().Mode
}

// Call invokes one operation on a peer and waits for the outcome. The family
// selects deadline configuration; errors carry a domain.CallError whose Kind
// distinguishes unavailable, timeout, refused, detached, and transport
// failures.
func (h *Hub) Call(ctx context.Context, peerID, family string, req domain.OpRequest) (domain.OpResult, error) {
	return h.core.Call(ctx, peerID, family, req)
}

// Ready reports whether the peer is attached and has signaled READY.
func (h *Hub) Ready(peerID string) bool {
	return h.core.Ready(peerID)
}

// Peers returns the attached peers sorted by ID.
func (h *Hub) Peers() []domain.Peer {
	return h.core.Peers()
}

// Origins returns the normalized inbound allow-list.
func (h *Hub) Origins() []string {
	return h.core.Origins()
}

// Catalog returns the configured peer catalog, or nil.
func (h *Hub) Catalog() ports.Catalog {
	return h.catalog
}

// SyncCatalog recomposes the allow-list and family deadlines from the
// catalog. Pinned peers whose origin fell off the allow-list are detached:
// their manifest is gone, so their in-flight calls fail as detached instead
// of lingering until timeout.
func (h *Hub) SyncCatalog(ctx context.Context) error {
	if h.catalog == nil {
		return fmt.Errorf("no catalog configured")
	}
	origins, err := h.composeOrigins(ctx)
	if err != nil {
		return err
	}
	if err := h.core.ReplaceOrigins(origins); err != nil {
		return err
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range h.core.Origins() {
		allowed[o] = struct{}{}
	}
	for _, peer := range h.core.Peers() {
		if peer.Origin == "" {
			continue
		}
		if _, ok := allowed[peer.Origin]; !ok {
			h.logger.Info("detaching peer removed from catalog", "peer", peer.ID, "origin", peer.Origin)
			_ = h.core.Detach(peer.ID)
		}
	}

	manifests, err := h.catalog.List(ctx)
	if err != nil {
		return err
	}
	h.applyFamilyTimeouts(manifests)
	h.logger.Info("catalog synced", "origins", len(origins), "manifests", len(manifests))
	return nil
}

// WatchCatalog re-syncs on catalog change signals until ctx ends.
// Returns an error if the catalog does not support watching.
func (h *Hub) WatchCatalog(ctx context.Context) error {
	if h.catalog == nil {
		return fmt.Errorf("no catalog configured")
	}
	w, ok := h.catalog.(ports.Watchable)
	if !ok {
		return fmt.Errorf("current catalog does not support watching")
	}
	signals, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	for range signals {
		if err := h.SyncCatalog(ctx); err != nil {
			h.logger.Warn("catalog re-sync failed", "error", err)
		}
	}
	return nil
}

func (h *Hub) composeOrigins(ctx context.Context) ([]string, error) {
	var origins []string
	if h.hostOrigin != "" {
		origins = append(origins, h.hostOrigin)
	}
	origins = append(origins, h.staticOrigins...)

	if h.catalog != nil {
		manifests, err := h.catalog.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog list: %w", err)
		}
		for _, m := range manifests {
			if m.Origin != "" {
				origins = append(origins, m.Origin)
			}
		}
		h.applyFamilyTimeouts(manifests)
	}
	return origins, nil
}

func (h *Hub) applyFamilyTimeouts(manifests []domain.Manifest) {
	for _, m := range manifests {
		for _, f := range m.Families {
			d, err := f.ParseTimeout()
			if err != nil {
				h.logger.Warn("invalid family timeout in manifest", "peer", m.ID, "family", f.Name, "error", err)
				continue
			}
			if d > 0 {
				if h.core != nil {
					h.core.SetFamilyTimeout(f.Name, d)
				} else {
					if h.familyTimeouts == nil {
						h.familyTimeouts = make(map[string]time.Duration)
					}
					h.familyTimeouts[f.Name] = d
				}
			}
		}
	}
}
