// Package memory provides an in-process transport pair for the bridge.
// It backs tests, examples, and hosts that embed peers in the same binary.
package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/pergola/pkg/ports"
)

const defaultBuffer = 64

// Feed implements ports.Feed over an in-process channel.
// Safe for concurrent use.
type Feed struct {
	inbox  chan ports.Datagram
	buffer int
}

// NewFeed creates an in-process inbound feed.
func NewFeed() *Feed {
	return &Feed{
		inbox:  make(chan ports.Datagram, defaultBuffer),
		buffer: defaultBuffer,
	}
}

// Receive implements ports.Feed.
func (f *Feed) Receive(ctx context.Context) (<-chan ports.Datagram, error) {
	out := make(chan ports.Datagram)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dg, ok := <-f.inbox:
				if !ok {
					return
				}
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

// Connect creates a peer endpoint bound to this feed. The returned Conn is
// both sides of the pipe: the host posts through Conn.Link, the simulated
// peer sends through Conn.Send and reads through Conn.Recv.
func (f *Feed) Connect(peerID, origin string) *Conn {
	return &Conn{
		feed:   f,
		peerID: peerID,
		origin: origin,
		toPeer: make(chan []byte, f.buffer),
	}
}

// inject queues one inbound datagram, dropping when the feed is saturated.
// The transport contract is one-way-send: no backpressure to the sender.
func (f *Feed) inject(dg ports.Datagram) error {
	select {
	case f.inbox <- dg:
		return nil
	default:
		return fmt.Errorf("feed buffer full, message dropped")
	}
}

// Conn is one in-process peer connection.
type Conn struct {
	feed   *Feed
	peerID string
	origin string
	toPeer chan []byte
}

// Link returns the host-side outbound link for this connection.
func (c *Conn) Link() ports.Link {
	return &link{conn: c}
}

// Send injects a raw message as coming from this peer's identity and origin.
func (c *Conn) Send(data []byte) error {
	return c.feed.inject(ports.Datagram{PeerID: c.peerID, Origin: c.origin, Data: clone(data)})
}

// SendFrom injects a raw message with a spoofed origin. Tests use it to
// exercise the allow-list; real transports derive the origin themselves.
func (c *Conn) SendFrom(origin string, data []byte) error {
	return c.feed.inject(ports.Datagram{PeerID: c.peerID, Origin: origin, Data: clone(data)})
}

// Recv yields messages the host posted toward this peer.
func (c *Conn) Recv() <-chan []byte {
	return c.toPeer
}

type link struct {
	conn *Conn
}

// Post implements ports.Link. Bounded: a saturated peer buffer drops the
// message and reports it, it never blocks the hub.
func (l *link) Post(data []byte) error {
	select {
	case l.conn.toPeer <- clone(data):
		return nil
	default:
		return fmt.Errorf("peer %s buffer full", l.conn.peerID)
	}
}

// Origin implements ports.Link.
func (l *link) Origin() string {
	return l.conn.origin
}

func clone(data []byte) []byte {
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf
}
