package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// PeerConn is the peer-process side of the transport. The frame attribution
// it writes is taken at face value: the Redis deployment is trusted
// infrastructure, so only processes that may speak for an origin get its
// credentials.
type PeerConn struct {
	transport *Transport
	peerID    string
	origin    string
}

// Connect creates the peer-side connection for one peer identity.
func (t *Transport) Connect(peerID, origin string) *PeerConn {
	return &PeerConn{transport: t, peerID: peerID, origin: origin}
}

// Send publishes one envelope with this peer's attribution.
func (c *PeerConn) Send(data []byte) error {
	return c.publish(c.origin, data)
}

// SendFrom publishes with a spoofed origin. Tests use it to exercise the
// hub's allow-list.
func (c *PeerConn) SendFrom(origin string, data []byte) error {
	return c.publish(origin, data)
}

func (c *PeerConn) publish(origin string, data []byte) error {
	payload, err := json.Marshal(frame{Peer: c.peerID, Origin: origin, Data: data})
	if err != nil {
		return fmt.Errorf("framing message: %w", err)
	}
	ctx := context.Background()
	if err := c.transport.client.Publish(ctx, c.transport.inboundChannel(), payload).Err(); err != nil {
		return fmt.Errorf("publishing inbound: %w", err)
	}
	return nil
}

// Listen subscribes to this peer's channel and yields messages the hub
// posted toward it. The subscription is confirmed before the method returns.
func (c *PeerConn) Listen(ctx context.Context) (<-chan []byte, error) {
	sub := c.transport.client.Subscribe(ctx, c.transport.peerChannel(c.peerID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to peer channel: %w", err)
	}

	out := make(chan []byte)
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
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Hello announces this peer on the control channel so a listening hub
// attaches it.
func (c *PeerConn) Hello(ctx context.Context) error {
	return c.control(ctx, eventHello)
}

// Bye announces departure so the hub detaches this peer promptly instead of
// timing its calls out.
func (c *PeerConn) Bye(ctx context.Context) error {
	return c.control(ctx, eventBye)
}

func (c *PeerConn) control(ctx context.Context, event string) error {
	payload, err := json.Marshal(controlFrame{Event: event, Peer: c.peerID, Origin: c.origin})
	if err != nil {
		return fmt.Errorf("framing control message: %w", err)
	}
	if err := c.transport.client.Publish(ctx, c.transport.controlChannel(), payload).Err(); err != nil {
		return fmt.Errorf("publishing control: %w", err)
	}
	return nil
}
