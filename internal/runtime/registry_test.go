package runtime

import (
	"testing"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(logging.NewNop(), domain.LifecycleHooks{})
}

func TestRegistryAttachLookupDetach(t *testing.T) {
	reg := newTestRegistry()
	link := newFakeLink(peerOrigin)

	require.NoError(t, reg.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, link))

	peer, gotLink, ok := reg.Lookup("planner")
	require.True(t, ok)
	assert.Equal(t, "planner", peer.ID)
	assert.Same(t, link, gotLink.(*fakeLink))
	assert.False(t, reg.Ready("planner"), "fresh attachments start not ready")

	require.NoError(t, reg.Detach("planner"))
	_, _, ok = reg.Lookup("planner")
	assert.False(t, ok)

	err := reg.Detach("planner")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestRegistryAttachValidation(t *testing.T) {
	reg := newTestRegistry()

	assert.Error(t, reg.Attach(domain.Peer{}, newFakeLink(peerOrigin)), "empty peer ID")
	assert.Error(t, reg.Attach(domain.Peer{ID: "p"}, nil), "nil link")

	err := reg.Attach(domain.Peer{ID: "p", Origin: "not an origin"}, newFakeLink(peerOrigin))
	assert.ErrorIs(t, err, domain.ErrInvalidOrigin)
}

func TestRegistryNormalizesPinnedOrigin(t *testing.T) {
	reg := newTestRegistry()
	require.NoError(t, reg.Attach(domain.Peer{ID: "p", Origin: "HTTPS://Tools.Example.com:443"}, newFakeLink(peerOrigin)))

	peer, _, ok := reg.Lookup("p")
	require.True(t, ok)
	assert.Equal(t, "https://tools.example.com", peer.Origin)
}

func TestRegistryReattachResetsReadiness(t *testing.T) {
	reg := newTestRegistry()

	var detached []string
	reg.OnDetach(func(p domain.Peer) { detached = append(detached, p.ID) })

	require.NoError(t, reg.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, newFakeLink(peerOrigin)))
	_, transitioned, ok := reg.MarkReady("planner")
	require.True(t, ok)
	require.True(t, transitioned)
	require.True(t, reg.Ready("planner"))

	// Same ID attaches again: the old connection is gone, readiness starts over.
	replacement := newFakeLink(peerOrigin)
	require.NoError(t, reg.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, replacement))

	assert.Equal(t, []string{"planner"}, detached, "re-attach must detach the previous connection")
	assert.False(t, reg.Ready("planner"))

	_, _, ok = reg.Lookup("planner")
	assert.True(t, ok)
}

func TestRegistryMarkReadyIdempotent(t *testing.T) {
	reg := newTestRegistry()

	var readyCount int
	reg.OnReady(func(domain.Peer) { readyCount++ })

	_, _, ok := reg.MarkReady("ghost")
	assert.False(t, ok, "unattached peers cannot become ready")

	require.NoError(t, reg.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, newFakeLink(peerOrigin)))

	_, transitioned, ok := reg.MarkReady("planner")
	require.True(t, ok)
	assert.True(t, transitioned)

	_, transitioned, ok = reg.MarkReady("planner")
	require.True(t, ok)
	assert.False(t, transitioned, "duplicate READY must not re-transition")
	assert.Equal(t, 1, readyCount, "observers fire on the transition only")
}

func TestRegistryListSorted(t *testing.T) {
	reg := newTestRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Attach(domain.Peer{ID: id}, newFakeLink(peerOrigin)))
	}

	var ids []string
	for _, p := range reg.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestResolveDelivery(t *testing.T) {
	reg := newTestRegistry()
	require.NoError(t, reg.Attach(domain.Peer{ID: "pinned", Origin: peerOrigin}, newFakeLink(peerOrigin)))
	require.NoError(t, reg.Attach(domain.Peer{ID: "loose"}, newFakeLink(peerOrigin)))

	t.Run("Unattached", func(t *testing.T) {
		_, _, ok := reg.ResolveDelivery(domain.Delivery{PeerID: "ghost", Origin: peerOrigin})
		assert.False(t, ok)
	})

	t.Run("Pinned Origin Match", func(t *testing.T) {
		_, _, ok := reg.ResolveDelivery(domain.Delivery{PeerID: "pinned", Origin: "HTTPS://tools.example.com:443"})
		assert.True(t, ok, "raw origin variants must match after normalization")
	})

	t.Run("Pinned Origin Mismatch", func(t *testing.T) {
		_, _, ok := reg.ResolveDelivery(domain.Delivery{PeerID: "pinned", Origin: "https://other.example.com"})
		assert.False(t, ok)
	})

	t.Run("Unpinned Accepts Any Allowed Origin", func(t *testing.T) {
		_, _, ok := reg.ResolveDelivery(domain.Delivery{PeerID: "loose", Origin: "https://anywhere.example.com"})
		assert.True(t, ok, "peers without a pinned origin rely on the bus allow-list alone")
	})
}
