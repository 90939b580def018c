// Package http exposes the bridge to browser peers. Embedded frames POST
// their envelopes to a per-peer inbox and read the host's pushes from a
// per-peer SSE stream. Attribution comes from the Origin request header;
// the hub's allow-list stays the authority on who gets through.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

const (
	maxMessageBytes = 1 << 20
	inboxSize       = 256
)

// Roster exposes the hub views the listing endpoint serves.
type Roster interface {
	Peers() []domain.Peer
	Ready(peerID string) bool
}

// Attacher is the hub surface the transport drives as event streams come and
// go. Opening a peer's stream attaches it; the last stream closing detaches.
type Attacher interface {
	Attach(peer domain.Peer, link ports.Link) error
	Detach(peerID string) error
}

// Server is the HTTP transport surface. It implements ports.Feed for the
// hub and mints per-peer SSE links.
type Server struct {
	logger   *slog.Logger
	streams  *StreamManager
	inbox    chan ports.Datagram
	roster   Roster
	attacher Attacher
	allow    func(origin string) bool
}

type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRoster enables the peer listing endpoint.
func WithRoster(roster Roster) Option {
	return func(s *Server) {
		s.roster = roster
	}
}

// SetRoster late-binds the roster. The hub consumes this server as its feed,
// so it is constructed after the server; call this before the listener
// starts serving.
func (s *Server) SetRoster(roster Roster) {
	s.roster = roster
}

// WithAttacher lets the event-stream lifecycle drive peer attachment. With
// an attacher set, stream admission also runs the CORS allow func, so only
// allow-listed origins can attach and read pushes.
func WithAttacher(attacher Attacher) Option {
	return func(s *Server) {
		s.attacher = attacher
	}
}

// SetAttacher late-binds the attacher, same constraint as SetRoster. Without
// one, streams only tap the fan-out and attachment is the embedder's job.
func (s *Server) SetAttacher(attacher Attacher) {
	s.attacher = attacher
}

// WithCORS restricts which origins the browser may call from. Without it
// every origin is reflected; the hub allow-list still drops foreign
// messages, CORS only stops well-behaved browsers earlier.
func WithCORS(allow func(origin string) bool) Option {
	return func(s *Server) {
		s.allow = allow
	}
}

// New creates the HTTP transport surface.
func New(opts ...Option) *Server {
	s := &Server{
		logger:  logging.NewNop(),
		streams: NewStreamManager(),
		inbox:   make(chan ports.Datagram, inboxSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receive implements ports.Feed.
func (s *Server) Receive(ctx context.Context) (<-chan ports.Datagram, error) {
	out := make(chan ports.Datagram)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dg := <-s.inbox:
				select {
				case out <- dg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Link returns the outbound link for one peer. Posts fan out to that peer's
// connected event streams; with no stream connected the message is dropped,
// the readiness resend covers the reconnect gap.
func (s *Server) Link(peerID, origin string) ports.Link {
	return &link{server: s, peerID: peerID, origin: origin}
}

// Handler builds the HTTP handler for the transport surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)
	r.Get("/peers", s.listPeers)
	r.Post("/peers/{peerID}/messages", s.postMessage)
	r.Get("/peers/{peerID}/events", s.subscribeEvents)

	return s.enableCORS(r)
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (s.allow == nil || s.allow(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// postMessage handles POST /peers/{peerID}/messages.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	origin := r.Header.Get("Origin")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("inbound message rejected", "peer", peerID, "error", err)
		return
	}

	select {
	case s.inbox <- ports.Datagram{PeerID: peerID, Origin: origin, Data: data}:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "Bridge busy", http.StatusServiceUnavailable)
		s.logger.Warn("inbox full, inbound message dropped", "peer", peerID)
	}
}

// subscribeEvents handles GET /peers/{peerID}/events (SSE). The stream is
// the peer's presence: opening it attaches the peer (a reopened stream
// re-attaches, so a reloaded frame must handshake again), and the last
// stream closing detaches it.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("event stream requested on non-flushing writer")
		return
	}

	peerID := chi.URLParam(r, "peerID")
	origin := r.Header.Get("Origin")

	// Subscribe before attaching: on a frame reload the new stream must be
	// countable before the old stream's teardown decides whether to detach.
	ch, cancel := s.streams.Subscribe(peerID)
	attached := false
	defer func() {
		cancel()
		if attached && s.streams.Count(peerID) == 0 {
			_ = s.attacher.Detach(peerID)
		}
	}()

	if s.attacher != nil {
		if s.allow != nil && !s.allow(origin) {
			http.Error(w, "Origin not allowed", http.StatusForbidden)
			s.logger.Warn("event stream refused", "peer", peerID, "origin", origin)
			return
		}
		if err := s.attacher.Attach(domain.Peer{ID: peerID, Origin: origin}, s.Link(peerID, origin)); err != nil {
			http.Error(w, "Peer not admitted", http.StatusServiceUnavailable)
			s.logger.Warn("event stream rejected", "peer", peerID, "origin", origin, "error", err)
			return
		}
		attached = true
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Debug("event stream opened", "peer", peerID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event stream closed", "peer", peerID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// getHealth handles GET /health.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// getInfo handles GET /info.
func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"app":     "pergola-http",
		"version": strings.TrimSpace(pergola.Version),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type peerView struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Ready  bool   `json:"ready"`
}

// listPeers handles GET /peers.
func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	if s.roster == nil {
		http.Error(w, "No roster attached", http.StatusNotFound)
		return
	}

	peers := s.roster.Peers()
	views := make([]peerView, len(peers))
	for i, p := range peers {
		views[i] = peerView{ID: p.ID, Origin: p.Origin, Ready: s.roster.Ready(p.ID)}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.Error("peer list encode failed", "error", err)
	}
}

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // PeerID -> Set of Channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(peerID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[peerID]; !ok {
		sm.subscribers[peerID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[peerID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[peerID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, peerID)
			}
		}
	}
}

// Count reports how many streams are open for a peer.
func (sm *StreamManager) Count(peerID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[peerID])
}

func (sm *StreamManager) Broadcast(peerID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if subs, ok := sm.subscribers[peerID]; ok {
		for ch := range subs {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
			}
		}
	}
}

type link struct {
	server *Server
	peerID string
	origin string
}

// Post implements ports.Link.
func (l *link) Post(data []byte) error {
	l.server.streams.Broadcast(l.peerID, string(data))
	return nil
}

// Origin implements ports.Link.
func (l *link) Origin() string {
	return l.origin
}
