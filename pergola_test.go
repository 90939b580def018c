package pergola_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/testutils"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

const (
	hostOrigin = "https://app.example.com"
	peerOrigin = "https://tools.example.com"
)

func startHub(t *testing.T, feed *memory.Feed, opts ...pergola.Option) *pergola.Hub {
	t.Helper()

	base := []pergola.Option{
		pergola.WithHostOrigin(hostOrigin),
		pergola.WithOrigins(peerOrigin),
		pergola.WithSettleDelay(20 * time.Millisecond),
		pergola.WithCallTimeout(2 * time.Second),
	}
	hub, err := pergola.New(feed, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func waitReady(t *testing.T, hub *pergola.Hub, peerID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Ready(peerID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer %s never became ready", peerID)
}

func TestFacade_Integration(t *testing.T) {
	// 1. Boot the hub over the in-process transport.
	feed := memory.NewFeed()
	hub := startHub(t, feed)

	// 2. Attach a peer and sign the user in.
	peer := testutils.NewScriptedPeer(t, feed, "planner", peerOrigin)
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, peer.Link()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := hub.SetIdentity(domain.IdentityState{SubjectID: "user-1", DisplayName: "Ada"}); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}

	// 3. The peer signals READY and must receive both state snapshots.
	peer.SendReady()
	waitReady(t, hub, "planner")

	idPush := peer.WaitFor(domain.ChannelIdentity, 1)
	identity, err := domain.DecodeIdentity(idPush[len(idPush)-1].Payload)
	if err != nil {
		t.Fatalf("decoding identity push: %v", err)
	}
	if identity.SubjectID != "user-1" {
		t.Errorf("expected identity snapshot for user-1, got %q", identity.SubjectID)
	}

	presPush := peer.WaitFor(domain.ChannelPresentation, 1)
	pres, err := domain.DecodePresentation(presPush[0].Payload)
	if err != nil {
		t.Fatalf("decoding presentation push: %v", err)
	}
	if pres.Mode != domain.ThemeLight {
		t.Errorf("expected default light mode, got %q", pres.Mode)
	}

	// 4. A scripted operation call round-trips through the bridge.
	peer.RespondWith(func(env domain.Envelope) domain.OpResultPayload {
		if env.Action != "CREATE_RECORD" {
			t.Errorf("unexpected operation action %q", env.Action)
		}
		return domain.OpResultPayload{Success: true, ResultID: "rec-1", ShareID: "share-9"}
	})

	result, err := hub.Call(context.Background(), "planner", "records", domain.OpRequest{
		Action:  "CREATE_RECORD",
		Payload: map[string]any{"title": "Field notes"},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.ResultID != "rec-1" || result.ShareID != "share-9" {
		t.Errorf("unexpected result %+v", result)
	}

	// 5. Theme changes propagate to the attached peer.
	if err := hub.SetTheme(domain.ThemeDark); err != nil {
		t.Fatalf("SetTheme failed: %v", err)
	}
	if hub.Theme() != domain.ThemeDark {
		t.Errorf("expected dark theme, got %q", hub.Theme())
	}
	darkPush := peer.WaitFor(domain.ChannelPresentation, 2)
	last, err := domain.DecodePresentation(darkPush[len(darkPush)-1].Payload)
	if err != nil {
		t.Fatalf("decoding presentation push: %v", err)
	}
	if last.Mode != domain.ThemeDark {
		t.Errorf("expected dark push, got %q", last.Mode)
	}

	// 6. Detach tears the peer down.
	if err := hub.Detach("planner"); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if hub.Ready("planner") {
		t.Error("detached peer still reported ready")
	}
	if got := hub.Peers(); len(got) != 0 {
		t.Errorf("expected no peers after detach, got %v", got)
	}
}

func TestFacade_ForeignOriginNeverMarksReady(t *testing.T) {
	feed := memory.NewFeed()
	hub := startHub(t, feed)

	peer := testutils.NewScriptedPeer(t, feed, "planner", peerOrigin)
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, peer.Link()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	// READY from an origin outside the allow-list must be dropped before it
	// reaches any handler.
	peer.SendFrom("https://evil.example.com", domain.NewReady())

	time.Sleep(60 * time.Millisecond)
	if hub.Ready("planner") {
		t.Fatal("spoofed READY marked the peer ready")
	}

	// The genuine origin still works afterwards.
	peer.SendReady()
	waitReady(t, hub, "planner")
}

func TestFacade_RefusedCallCarriesPeerReason(t *testing.T) {
	feed := memory.NewFeed()
	hub := startHub(t, feed)

	peer := testutils.NewScriptedPeer(t, feed, "planner", peerOrigin)
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, peer.Link()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	peer.SendReady()
	waitReady(t, hub, "planner")

	peer.RespondWith(func(domain.Envelope) domain.OpResultPayload {
		return domain.OpResultPayload{Success: false, Error: "quota exceeded"}
	})

	_, err := hub.Call(context.Background(), "planner", "records", domain.OpRequest{Action: "CREATE_RECORD"})
	ce, ok := domain.AsCallError(err)
	if !ok {
		t.Fatalf("expected a CallError, got %v", err)
	}
	if ce.Kind != domain.FailureRefused {
		t.Errorf("expected refused, got %q", ce.Kind)
	}
	if ce.Reason != "quota exceeded" {
		t.Errorf("expected the peer reason to survive, got %q", ce.Reason)
	}
}

func TestFacade_CallOnUnattachedPeerIsUnavailable(t *testing.T) {
	feed := memory.NewFeed()
	hub := startHub(t, feed)

	_, err := hub.Call(context.Background(), "ghost", "records", domain.OpRequest{Action: "CREATE_RECORD"})
	ce, ok := domain.AsCallError(err)
	if !ok {
		t.Fatalf("expected a CallError, got %v", err)
	}
	if ce.Kind != domain.FailureUnavailable {
		t.Errorf("expected unavailable, got %q", ce.Kind)
	}
}

// staticCatalog is a fixed in-test catalog.
type staticCatalog struct {
	manifests []domain.Manifest
}

func (c *staticCatalog) Get(_ context.Context, id string) (domain.Manifest, error) {
	for _, m := range c.manifests {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Manifest{}, domain.ErrPeerNotFound
}

func (c *staticCatalog) List(_ context.Context) ([]domain.Manifest, error) {
	return c.manifests, nil
}

var _ ports.Catalog = (*staticCatalog)(nil)

func TestFacade_CatalogComposesAllowListAndAttaches(t *testing.T) {
	catalog := &staticCatalog{manifests: []domain.Manifest{
		{
			ID:       "planner",
			Title:    "Planner",
			Origin:   "https://planner.example.com",
			EmbedURL: "https://planner.example.com/embed",
			Families: []domain.Family{{Name: "records", Timeout: "250ms"}},
		},
	}}

	feed := memory.NewFeed()
	hub := startHub(t, feed, pergola.WithCatalog(catalog))

	// Manifest origins join the allow-list next to the host and static ones.
	origins := hub.Origins()
	want := map[string]bool{}
	for _, o := range origins {
		want[o] = true
	}
	if !want["https://planner.example.com"] {
		t.Fatalf("manifest origin missing from allow-list: %v", origins)
	}

	peer := testutils.NewScriptedPeer(t, feed, "planner", "https://planner.example.com")
	if err := hub.AttachFromCatalog(context.Background(), "planner", peer.Link()); err != nil {
		t.Fatalf("AttachFromCatalog failed: %v", err)
	}
	peer.SendReady()
	waitReady(t, hub, "planner")

	// The manifest family deadline applies: a silent peer fails the call as
	// a timeout well within the 2s default.
	peer.RespondWith(nil)
	start := time.Now()
	_, err := hub.Call(context.Background(), "planner", "records", domain.OpRequest{Action: "CREATE_RECORD"})
	elapsed := time.Since(start)

	ce, ok := domain.AsCallError(err)
	if !ok || ce.Kind != domain.FailureTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("call took %v; manifest family timeout was not applied", elapsed)
	}

	if err := hub.AttachFromCatalog(context.Background(), "ghost", peer.Link()); err == nil {
		t.Error("expected AttachFromCatalog to fail for an unknown manifest")
	}
}

func TestFacade_SyncCatalogDetachesRemovedPeers(t *testing.T) {
	catalog := &staticCatalog{manifests: []domain.Manifest{
		{ID: "planner", Origin: "https://planner.example.com"},
	}}

	feed := memory.NewFeed()
	hub := startHub(t, feed, pergola.WithCatalog(catalog))

	peer := testutils.NewScriptedPeer(t, feed, "planner", "https://planner.example.com")
	if err := hub.AttachFromCatalog(context.Background(), "planner", peer.Link()); err != nil {
		t.Fatalf("AttachFromCatalog failed: %v", err)
	}
	peer.SendReady()
	waitReady(t, hub, "planner")

	// The manifest disappears; the next sync prunes the allow-list and the
	// attachment with it. The static tools origin is untouched.
	catalog.manifests = nil
	if err := hub.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("SyncCatalog failed: %v", err)
	}

	if hub.Ready("planner") {
		t.Error("removed peer still reported ready")
	}
	if got := hub.Peers(); len(got) != 0 {
		t.Errorf("expected no peers after sync, got %v", got)
	}
	for _, o := range hub.Origins() {
		if o == "https://planner.example.com" {
			t.Errorf("removed origin still allow-listed: %v", hub.Origins())
		}
	}
	if len(hub.Origins()) != 2 {
		t.Errorf("expected host and static origins to survive, got %v", hub.Origins())
	}
}

func TestFacade_AttachPinnedToManifestOrigin(t *testing.T) {
	catalog := &staticCatalog{manifests: []domain.Manifest{
		{ID: "planner", Origin: "https://planner.example.com"},
	}}

	feed := memory.NewFeed()
	hub := startHub(t, feed, pergola.WithCatalog(catalog))
	peer := testutils.NewScriptedPeer(t, feed, "planner", "https://planner.example.com")

	// A cataloged ID cannot be claimed from another allow-listed origin.
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: peerOrigin}, peer.Link()); err == nil {
		t.Fatal("expected attach from a mismatched origin to be refused")
	}
	if got := hub.Peers(); len(got) != 0 {
		t.Fatalf("refused attach left a peer behind: %v", got)
	}

	// The manifest origin itself attaches, normalization included.
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: "HTTPS://planner.example.com:443"}, peer.Link()); err != nil {
		t.Fatalf("Attach with the manifest origin failed: %v", err)
	}

	// IDs the catalog does not know stay free-form.
	scratch := testutils.NewScriptedPeer(t, feed, "scratch", peerOrigin)
	if err := hub.Attach(domain.Peer{ID: "scratch", Origin: peerOrigin}, scratch.Link()); err != nil {
		t.Fatalf("Attach of an uncataloged peer failed: %v", err)
	}
}
