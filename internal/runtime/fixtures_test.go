package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/stretchr/testify/require"
)

const (
	hostOrigin = "https://hub.example.com"
	peerOrigin = "https://tools.example.com"
)

// fakeLink records everything posted toward a peer.
type fakeLink struct {
	origin   string
	failWith error

	mu    sync.Mutex
	posts [][]byte
}

func newFakeLink(origin string) *fakeLink {
	return &fakeLink{origin: origin}
}

func (l *fakeLink) Post(data []byte) error {
	if l.failWith != nil {
		return l.failWith
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	l.posts = append(l.posts, buf)
	return nil
}

func (l *fakeLink) Origin() string { return l.origin }

func (l *fakeLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posts)
}

func (l *fakeLink) envelopes(t *testing.T) []domain.Envelope {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Envelope, 0, len(l.posts))
	for _, data := range l.posts {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		out = append(out, env)
	}
	return out
}

// waitForChannel polls until the link has posted an envelope on ch and returns it.
func (l *fakeLink) waitForChannel(t *testing.T, ch domain.Channel) domain.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, env := range l.envelopes(t) {
			if env.Channel == ch {
				return env
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no %s envelope posted; got %+v", ch, l.envelopes(t))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// fakeFeed is a hand-driven inbound transport.
type fakeFeed struct {
	ch chan ports.Datagram
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan ports.Datagram, 32)}
}

func (f *fakeFeed) Receive(ctx context.Context) (<-chan ports.Datagram, error) {
	out := make(chan ports.Datagram)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dg, ok := <-f.ch:
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

func (f *fakeFeed) injectRaw(peerID, origin string, data []byte) {
	f.ch <- ports.Datagram{PeerID: peerID, Origin: origin, Data: data}
}

func (f *fakeFeed) inject(t *testing.T, peerID, origin string, env domain.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	f.injectRaw(peerID, origin, data)
}

// hookRecorder captures lifecycle events for assertions.
type hookRecorder struct {
	mu       sync.Mutex
	dropped  []domain.EnvelopeEvent
	sent     []domain.EnvelopeEvent
	ready    []string
	detached []string
	calls    []domain.CallEvent
}

func (hr *hookRecorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEnvelopeSent: func(_ context.Context, ev *domain.EnvelopeEvent) {
			hr.mu.Lock()
			hr.sent = append(hr.sent, *ev)
			hr.mu.Unlock()
		},
		OnEnvelopeDropped: func(_ context.Context, ev *domain.EnvelopeEvent) {
			hr.mu.Lock()
			hr.dropped = append(hr.dropped, *ev)
			hr.mu.Unlock()
		},
		OnPeerReady: func(_ context.Context, ev *domain.PeerEvent) {
			hr.mu.Lock()
			hr.ready = append(hr.ready, ev.PeerID)
			hr.mu.Unlock()
		},
		OnPeerDetached: func(_ context.Context, ev *domain.PeerEvent) {
			hr.mu.Lock()
			hr.detached = append(hr.detached, ev.PeerID)
			hr.mu.Unlock()
		},
		OnCallResolved: func(_ context.Context, ev *domain.CallEvent) {
			hr.mu.Lock()
			hr.calls = append(hr.calls, *ev)
			hr.mu.Unlock()
		},
	}
}

func (hr *hookRecorder) dropReasons() []domain.DropReason {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	out := make([]domain.DropReason, 0, len(hr.dropped))
	for _, ev := range hr.dropped {
		out = append(out, ev.Reason)
	}
	return out
}

func (hr *hookRecorder) callOutcomes() []string {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	out := make([]string, 0, len(hr.calls))
	for _, ev := range hr.calls {
		out = append(out, ev.Outcome)
	}
	return out
}

// seqIDs mints predictable correlation IDs.
func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("corr-%d", n)
	}
}

func mustOrigins(t *testing.T, origins ...string) *domain.OriginSet {
	t.Helper()
	set, err := domain.NewOriginSet(origins...)
	require.NoError(t, err)
	return set
}

// newTestHub builds a running hub with short timings and predictable IDs.
func newTestHub(t *testing.T, hr *hookRecorder) (*Hub, *fakeFeed) {
	t.Helper()
	feed := newFakeFeed()
	cfg := Config{
		Origins:     []string{hostOrigin, peerOrigin},
		SettleDelay: 20 * time.Millisecond,
		CallTimeout: 300 * time.Millisecond,
		Logger:      logging.NewNop(),
		NewID:       seqIDs(),
	}
	if hr != nil {
		cfg.Hooks = hr.hooks()
	}
	h, err := NewHub(feed, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return h, feed
}
