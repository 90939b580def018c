package testutils

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Responder scripts how a peer answers operation requests.
type Responder func(env domain.Envelope) domain.OpResultPayload

// ScriptedPeer simulates a peer surface over the in-process transport. It
// records every envelope the hub pushes at it and, when a Responder is set,
// answers operation requests with the scripted result.
type ScriptedPeer struct {
	t    *testing.T
	conn *memory.Conn
	stop chan struct{}

	mu        sync.Mutex
	received  map[domain.Channel][]domain.Envelope
	responder Responder
}

// NewScriptedPeer connects a scripted peer to the feed and starts its pump.
// The pump stops automatically at test cleanup.
func NewScriptedPeer(t *testing.T, feed *memory.Feed, id, origin string) *ScriptedPeer {
	t.Helper()

	p := &ScriptedPeer{
		t:        t,
		conn:     feed.Connect(id, origin),
		stop:     make(chan struct{}),
		received: make(map[domain.Channel][]domain.Envelope),
	}
	go p.pump()
	t.Cleanup(func() { close(p.stop) })
	return p
}

// Link returns the host-side outbound link for attaching this peer.
func (p *ScriptedPeer) Link() ports.Link {
	return p.conn.Link()
}

// RespondWith installs the scripted answer for incoming operation requests.
func (p *ScriptedPeer) RespondWith(fn Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = fn
}

// SendReady announces the peer runtime is able to process messages.
func (p *ScriptedPeer) SendReady() {
	p.Send(domain.NewReady())
}

// Send marshals the envelope and injects it with this peer's attribution.
func (p *ScriptedPeer) Send(env domain.Envelope) {
	p.t.Helper()
	data, err := json.Marshal(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.Send(data))
}

// SendFrom injects the envelope with a spoofed origin.
func (p *ScriptedPeer) SendFrom(origin string, env domain.Envelope) {
	p.t.Helper()
	data, err := json.Marshal(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.SendFrom(origin, data))
}

// Received returns a copy of the envelopes recorded on one channel.
func (p *ScriptedPeer) Received(ch domain.Channel) []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Envelope, len(p.received[ch]))
	copy(out, p.received[ch])
	return out
}

// WaitFor blocks until at least n envelopes arrived on the channel, failing
// the test after two seconds.
func (p *ScriptedPeer) WaitFor(ch domain.Channel, n int) []domain.Envelope {
	p.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := p.Received(ch); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.t.Fatalf("timed out waiting for %d envelope(s) on %s, have %d", n, ch, len(p.Received(ch)))
	return nil
}

func (p *ScriptedPeer) pump() {
	for {
		select {
		case <-p.stop:
			return
		case data := <-p.conn.Recv():
			env, err := domain.ParseEnvelope(data)
			if err != nil {
				continue
			}
			p.record(env)
			if env.Channel == domain.ChannelOpRequest {
				p.answer(env)
			}
		}
	}
}

func (p *ScriptedPeer) record(env domain.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received[env.Channel] = append(p.received[env.Channel], env)
}

func (p *ScriptedPeer) answer(env domain.Envelope) {
	p.mu.Lock()
	fn := p.responder
	p.mu.Unlock()
	if fn == nil {
		return
	}
	result := fn(env)
	data, err := json.Marshal(domain.NewOpResult(env.Action, result, env.CorrelationID))
	if err != nil {
		return
	}
	_ = p.conn.Send(data)
}
