package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kelarsco/sneaklink/dbopen"
	"github.com/kelarsco/sneaklink/discovery/internal/store"

	_ "modernc.org/sqlite"
)

var testMCPImpl = &mcp.Implementation{Name: "sneaklink-test", Version: "0.1.0"}

// mcpSession creates a Service on an in-memory database, registers the MCP
// tools, and returns a connected client session for end-to-end tool calls.
func mcpSession(t *testing.T) (*Service, *mcp.ClientSession) {
	t.Helper()

	var cfg Config
	cfg.Sources.HostedSuffix = "mystorefront.shop"
	svc, err := New(dbopen.OpenMemory(t), cfg, slog.Default())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return svc, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

// WHAT: triggers a run over MCP, then triggers again while the first trigger
// is still queued.
// WHY: tool callers cannot see the scheduler; the coalesced status is their
// only signal that two requests became one run.
func TestMCP_TriggerRun(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "discovery_trigger_run", map[string]any{})
	var resp map[string]string
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "triggered" {
		t.Errorf("status = %q, want %q", resp["status"], "triggered")
	}
	if resp["cadence"] != "fast" {
		t.Errorf("cadence = %q, want default %q", resp["cadence"], "fast")
	}

	// Nothing consumes the trigger channel here, so a second request
	// coalesces into the pending one.
	text = callTool(t, session, "discovery_trigger_run", map[string]any{"cadence": "fast"})
	json.Unmarshal([]byte(text), &resp)
	if resp["status"] != "coalesced" {
		t.Errorf("status = %q, want %q", resp["status"], "coalesced")
	}
}

// WHAT: queries status on a fresh service.
// WHY: the status tool is the liveness probe for MCP clients; it must work
// before any run has happened.
func TestMCP_Status(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "discovery_status", map[string]any{})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Running {
		t.Error("fresh service reports a running run")
	}
	if st.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", st.PendingCount)
	}
}

// WHAT: lists stores after inserting one directly through the repository.
// WHY: the list tool is how operators audit what discovery accepted.
func TestMCP_ListStores(t *testing.T) {
	svc, session := mcpSession(t)
	ctx := context.Background()

	if _, err := svc.store.Upsert(ctx, &store.StoreRecord{
		ID:          "s1",
		IdentityURL: "https://kicks.mystorefront.shop",
		DisplayName: "Kicks Club",
		SourceName:  "certlog",
		IsActive:    true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	text := callTool(t, session, "discovery_list_stores", map[string]any{"limit": 10})
	var resp struct {
		Stores []*StoreRecord `json:"stores"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Stores) != 1 {
		t.Fatalf("expected 1 store, got %d", len(resp.Stores))
	}
	if resp.Stores[0].DisplayName != "Kicks Club" {
		t.Errorf("DisplayName = %q, want %q", resp.Stores[0].DisplayName, "Kicks Club")
	}
}

// WHAT: asks for the last report before any run completed.
// WHY: a nil report must come back as an explicit null, not a tool error.
func TestMCP_LastReport_NoneYet(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "discovery_last_report", map[string]any{})
	var resp struct {
		Report json.RawMessage `json:"report"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(resp.Report) != "null" {
		t.Errorf("report = %s, want null", resp.Report)
	}
}
