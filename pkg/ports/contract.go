package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Endpoint is the peer side of one transport connection under contract test.
type Endpoint interface {
	// Link returns the host-side outbound link toward this peer.
	Link() Link

	// Send injects a raw message as if the peer surface had sent it.
	Send(data []byte) error

	// Recv yields messages the host posted via Link.
	Recv() <-chan []byte
}

// TransportFactory builds a fresh transport fixture: the inbound feed plus a
// dialer that connects simulated peer surfaces to it.
type TransportFactory func(t *testing.T) (Feed, func(id, origin string) Endpoint)

// RunTransportContract runs a suite of tests to verify that a transport
// implementation adheres to the Feed/Link contract.
func RunTransportContract(t *testing.T, factory TransportFactory) {
	t.Run("Inbound Attribution", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed, dial := factory(t)
		stream, err := feed.Receive(ctx)
		require.NoError(t, err, "Receive should not return error")

		ep := dial("planner", "https://tools.example.com")
		require.NoError(t, ep.Send([]byte(`{"channel":"READY","action":"READY"}`)))

		select {
		case d := <-stream:
			assert.Equal(t, "planner", d.PeerID, "PeerID must come from the transport")
			assert.Equal(t, "https://tools.example.com", d.Origin, "Origin must come from the transport")
			assert.JSONEq(t, `{"channel":"READY","action":"READY"}`, string(d.Data))
		case <-time.After(2 * time.Second):
			t.Fatal("no datagram arrived on the feed")
		}
	})

	t.Run("Outbound Delivery", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed, dial := factory(t)
		_, err := feed.Receive(ctx)
		require.NoError(t, err)

		ep := dial("planner", "https://tools.example.com")
		require.NoError(t, ep.Link().Post([]byte(`{"channel":"READY","action":"READY"}`)))

		select {
		case data := <-ep.Recv():
			assert.JSONEq(t, `{"channel":"READY","action":"READY"}`, string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("posted message never reached the peer endpoint")
		}
	})

	t.Run("Link Origin", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed, dial := factory(t)
		_, err := feed.Receive(ctx)
		require.NoError(t, err)

		ep := dial("planner", "https://tools.example.com")
		assert.Equal(t, "https://tools.example.com", ep.Link().Origin())
	})

	t.Run("Feed Closes With Context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		feed, _ := factory(t)
		stream, err := feed.Receive(ctx)
		require.NoError(t, err)

		cancel()

		select {
		case _, open := <-drain(stream):
			assert.False(t, open, "stream should close after cancellation")
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close after context cancellation")
		}
	})
}

// drain forwards the stream until it closes, discarding buffered datagrams so
// the close is observable even if messages were in flight.
func drain(stream <-chan Datagram) <-chan Datagram {
	out := make(chan Datagram)
	go func() {
		defer close(out)
		for range stream {
		}
	}()
	return out
}
