package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

type fakeBridge struct {
	lastPeer   string
	lastFamily string
	lastReq    domain.OpRequest
	result     domain.OpResult
	err        error
}

func (f *fakeBridge) Peers() []domain.Peer {
	return []domain.Peer{{ID: "planner", Origin: "https://tools.example.com"}}
}
func (f *fakeBridge) Ready(string) bool { return true }

func (f *fakeBridge) Identity() domain.IdentityState {
	return domain.IdentityState{SubjectID: "user-1", DisplayName: "Ada", Credential: "tok-123"}
}

func (f *fakeBridge) Theme() domain.ThemeMode { return domain.ThemeDark }
func (f *fakeBridge) Catalog() ports.Catalog  { return nil }

func (f *fakeBridge) Call(_ context.Context, peerID, family string, req domain.OpRequest) (domain.OpResult, error) {
	f.lastPeer = peerID
	f.lastFamily = family
	f.lastReq = req
	return f.result, f.err
}

func TestHandleBridgeState_OmitsCredential(t *testing.T) {
	s := NewServer(&fakeBridge{})

	resp, err := s.handleBridgeState(context.Background(), mcp.CallToolRequest{}, nil)
	if err != nil {
		t.Fatalf("handleBridgeState failed: %v", err)
	}

	if resp.Identity.SubjectID != "user-1" || !resp.Identity.SignedIn {
		t.Errorf("unexpected identity view: %+v", resp.Identity)
	}
	if resp.Theme != "dark" {
		t.Errorf("unexpected theme %q", resp.Theme)
	}
	// IdentityView has no credential field at all; nothing to assert beyond
	// the view building without one.
}

func TestHandleCallOperation_ParsesPayload(t *testing.T) {
	bridge := &fakeBridge{result: domain.OpResult{ResultID: "rec-1", ShareID: "share-9"}}
	s := NewServer(bridge)

	args := map[string]interface{}{
		"peer_id": "planner",
		"action":  "CREATE_RECORD",
		"family":  "records",
		"payload": `{"title":"Field notes"}`,
	}
	resp, err := s.handleCallOperation(context.Background(), mcp.CallToolRequest{}, args)
	if err != nil {
		t.Fatalf("handleCallOperation failed: %v", err)
	}

	if resp.ResultID != "rec-1" || resp.ShareID != "share-9" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if bridge.lastPeer != "planner" || bridge.lastFamily != "records" {
		t.Errorf("call routed wrong: peer=%q family=%q", bridge.lastPeer, bridge.lastFamily)
	}
	if bridge.lastReq.Payload["title"] != "Field notes" {
		t.Errorf("payload lost: %+v", bridge.lastReq.Payload)
	}
}

func TestHandleCallOperation_SurfacesFailureKind(t *testing.T) {
	bridge := &fakeBridge{err: domain.NewCallError(domain.FailureRefused, "quota exceeded")}
	s := NewServer(bridge)

	args := map[string]interface{}{"peer_id": "planner", "action": "CREATE_RECORD"}
	_, err := s.handleCallOperation(context.Background(), mcp.CallToolRequest{}, args)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "refused") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("failure kind and reason missing from error: %v", err)
	}
}

func TestHandleCallOperation_RejectsBadPayload(t *testing.T) {
	s := NewServer(&fakeBridge{})

	args := map[string]interface{}{"peer_id": "planner", "action": "CREATE_RECORD", "payload": "not json"}
	_, err := s.handleCallOperation(context.Background(), mcp.CallToolRequest{}, args)
	if err == nil {
		t.Fatal("expected a payload error")
	}
}
