// Package redis bridges peers running in other processes over Redis pub/sub.
// Every peer process publishes envelopes onto a shared inbound channel; the
// hub publishes toward each peer on a per-peer channel. Attribution rides in
// the transport frame, never in the envelope body.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

const (
	defaultPrefix = "pergola:"
	postTimeout   = 2 * time.Second
)

// frame wraps one envelope with its transport-level attribution.
type frame struct {
	Peer   string          `json:"peer"`
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// controlFrame announces peer arrival and departure on the control channel.
type controlFrame struct {
	Event  string `json:"event"`
	Peer   string `json:"peer"`
	Origin string `json:"origin"`
}

const (
	eventHello = "HELLO"
	eventBye   = "BYE"
)

// Transport implements ports.Feed over Redis pub/sub.
type Transport struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

type Option func(*Transport)

// WithPrefix sets the channel name prefix.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a Redis transport with its own client.
func New(address, password string, db int, opts ...Option) *Transport {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis transport from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Transport {
	t := &Transport{
		client: client,
		prefix: defaultPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) inboundChannel() string {
	return t.prefix + "inbound"
}

func (t *Transport) controlChannel() string {
	return t.prefix + "control"
}

func (t *Transport) peerChannel(peerID string) string {
	return t.prefix + "peer:" + peerID
}

// Receive implements ports.Feed. The subscription is confirmed before the
// method returns, so messages published afterwards are not lost.
func (t *Transport) Receive(ctx context.Context) (<-chan ports.Datagram, error) {
	sub := t.client.Subscribe(ctx, t.inboundChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", t.inboundChannel(), err)
	}

	out := make(chan ports.Datagram)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f frame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					t.logger.Warn("discarding unframed inbound message", "error", err)
					continue
				}
				dg := ports.Datagram{PeerID: f.Peer, Origin: f.Origin, Data: f.Data}
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

// Link returns the outbound link publishing toward one peer process.
func (t *Transport) Link(peerID, origin string) ports.Link {
	return &link{transport: t, peerID: peerID, origin: origin}
}

// Close closes the underlying client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Attacher is the hub surface the control loop drives.
type Attacher interface {
	Attach(peer domain.Peer, link ports.Link) error
	Detach(peerID string) error
}

// Run consumes the control channel until ctx ends, attaching peers that
// announce HELLO and detaching on BYE. The allow-list still applies to their
// data: an announced origin outside it produces an attached but mute peer.
func (t *Transport) Run(ctx context.Context, hub Attacher) error {
	sub := t.client.Subscribe(ctx, t.controlChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to %s: %w", t.controlChannel(), err)
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f controlFrame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				t.logger.Warn("discarding malformed control message", "error", err)
				continue
			}
			switch f.Event {
			case eventHello:
				if err := hub.Attach(domain.Peer{ID: f.Peer, Origin: f.Origin}, t.Link(f.Peer, f.Origin)); err != nil {
					t.logger.Warn("announced peer not attached", "peer", f.Peer, "error", err)
					continue
				}
				t.logger.Info("peer announced", "peer", f.Peer, "origin", f.Origin)
			case eventBye:
				if err := hub.Detach(f.Peer); err != nil {
					t.logger.Debug("departed peer was not attached", "peer", f.Peer)
					continue
				}
				t.logger.Info("peer departed", "peer", f.Peer)
			default:
				t.logger.Warn("unknown control event", "event", f.Event)
			}
		}
	}
}

type link struct {
	transport *Transport
	peerID    string
	origin    string
}

// Post implements ports.Link. The deadline keeps a wedged connection from
// stalling the hub's dispatch loop.
func (l *link) Post(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	if err := l.transport.client.Publish(ctx, l.transport.peerChannel(l.peerID), data).Err(); err != nil {
		return fmt.Errorf("publishing to peer %s: %w", l.peerID, err)
	}
	return nil
}

// Origin implements ports.Link.
func (l *link) Origin() string {
	return l.origin
}
