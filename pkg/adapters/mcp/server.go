// Package mcp exposes the bridge to agent runtimes over the Model Context
// Protocol: listing peers, reading the shared state, and invoking peer
// operations as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Bridge defines the hub surface the MCP server drives.
type Bridge interface {
	Peers() []domain.Peer
	Ready(peerID string) bool
	Identity() domain.IdentityState
	Theme() domain.ThemeMode
	Call(ctx context.Context, peerID, family string, req domain.OpRequest) (domain.OpResult, error)
	Catalog() ports.Catalog
}

// PeerView is one row of the list_peers tool output.
type PeerView struct {
	ID     string `json:"id" jsonschema_description:"Peer identifier"`
	Origin string `json:"origin" jsonschema_description:"Pinned peer origin"`
	Ready  bool   `json:"ready" jsonschema_description:"Whether the peer signaled READY"`
}

// IdentityView is the identity snapshot without its credential. The
// credential never crosses this surface.
type IdentityView struct {
	SubjectID   string `json:"subjectId,omitempty" jsonschema_description:"Signed-in principal, empty when signed out"`
	DisplayName string `json:"displayName,omitempty" jsonschema_description:"Human-readable name"`
	SignedIn    bool   `json:"signedIn" jsonschema_description:"Whether a principal is signed in"`
}

// StateResponse is the bridge_state tool output.
type StateResponse struct {
	Identity IdentityView `json:"identity" jsonschema_description:"Current identity snapshot"`
	Theme    string       `json:"theme" jsonschema_description:"Current presentation mode"`
}

// CallResponse is the call_operation tool output.
type CallResponse struct {
	ResultID string `json:"resultId,omitempty" jsonschema_description:"Identifier of the entity the peer acted on"`
	ShareID  string `json:"shareId,omitempty" jsonschema_description:"Optional secondary handle"`
}

// Server wraps the hub and exposes it as an MCP Server.
type Server struct {
	bridge    Bridge
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(bridge Bridge) *Server {
	s := &Server{
		bridge:    bridge,
		mcpServer: server.NewMCPServer("pergola-mcp", strings.TrimSpace(pergola.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		// Create a timeout context for the graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: list_peers
	s.mcpServer.AddTool(mcp.NewTool("list_peers",
		mcp.WithDescription("List the attached peers with their pinned origin and readiness."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		peers := s.bridge.Peers()
		views := make([]PeerView, len(peers))
		for i, p := range peers {
			views[i] = PeerView{ID: p.ID, Origin: p.Origin, Ready: s.bridge.Ready(p.ID)}
		}
		jsonBytes, _ := json.Marshal(views)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: bridge_state
	stateTool := mcp.NewTool("bridge_state",
		mcp.WithDescription("Read the state snapshots the bridge currently pushes to peers."),
		mcp.WithOutputSchema[StateResponse](),
	)
	s.mcpServer.AddTool(stateTool, mcp.NewStructuredToolHandler(s.handleBridgeState))

	// TOOL: call_operation
	callTool := mcp.NewTool("call_operation",
		mcp.WithDescription("Invoke an operation on a ready peer and wait for its result."),
		mcp.WithString("peer_id", mcp.Required(), mcp.Description("Target peer ID")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Operation name, e.g. CREATE_RECORD")),
		mcp.WithString("family", mcp.Description("Operation family selecting the call deadline (optional)")),
		mcp.WithString("payload", mcp.Description("JSON object with the operation input (optional)")),
		mcp.WithOutputSchema[CallResponse](),
	)
	s.mcpServer.AddTool(callTool, mcp.NewStructuredToolHandler(s.handleCallOperation))
}

// Handler methods for structured tools

func (s *Server) handleBridgeState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	identity := s.bridge.Identity()
	return StateResponse{
		Identity: IdentityView{
			SubjectID:   identity.SubjectID,
			DisplayName: identity.DisplayName,
			SignedIn:    identity.SignedIn(),
		},
		Theme: string(s.bridge.Theme()),
	}, nil
}

func (s *Server) handleCallOperation(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CallResponse, error) {
	peerID, _ := args["peer_id"].(string)
	action, _ := args["action"].(string)
	family, _ := args["family"].(string)

	req := domain.OpRequest{Action: action}
	if payloadStr, ok := args["payload"].(string); ok && payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &req.Payload); err != nil {
			return CallResponse{}, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}

	result, err := s.bridge.Call(ctx, peerID, family, req)
	if err != nil {
		if ce, ok := domain.AsCallError(err); ok {
			return CallResponse{}, fmt.Errorf("call failed (%s): %s", ce.Kind, ce.Reason)
		}
		return CallResponse{}, fmt.Errorf("call failed: %w", err)
	}

	return CallResponse{ResultID: result.ResultID, ShareID: result.ShareID}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: pergola://catalog
	s.mcpServer.AddResource(mcp.NewResource("pergola://catalog", "Peer Manifest Catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		catalog := s.bridge.Catalog()
		if catalog == nil {
			return nil, fmt.Errorf("no catalog configured")
		}
		manifests, err := catalog.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list manifests: %w", err)
		}
		jsonBytes, _ := json.Marshal(manifests)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "pergola://catalog",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
