package discovery

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kelarsco/sneaklink/kit"
)

// RegisterMCP registers the discovery tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerTriggerRun(srv)
	s.registerStatus(srv)
	s.registerListStores(srv)
	s.registerLastReport(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Service) registerTriggerRun(srv *mcp.Server) {
	type req struct {
		Cadence string `json:"cadence"`
	}

	tool := &mcp.Tool{
		Name:        "discovery_trigger_run",
		Description: "Trigger a storefront discovery run (fast, deep or comprehensive)",
		InputSchema: inputSchema(map[string]any{
			"cadence": map[string]any{"type": "string", "description": "Run cadence: fast, deep, comprehensive (default fast)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		cadence := p.Cadence
		if cadence == "" {
			cadence = "fast"
		}
		err := s.TriggerRun(cadence)
		if errors.Is(err, ErrTriggerQueued) {
			return map[string]string{"status": "coalesced", "cadence": cadence}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]string{"status": "triggered", "cadence": cadence}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (s *Service) registerStatus(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "discovery_status",
		Description: "Current discovery run state and aggregate store counters",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return s.Status(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (s *Service) registerListStores(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "discovery_list_stores",
		Description: "List the most recently validated storefront records",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max records to return (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		records, err := s.ListStores(ctx, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"stores": records}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (s *Service) registerLastReport(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "discovery_last_report",
		Description: "The finalized report of the most recent discovery run",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		s.mu.Lock()
		rep := s.lastReport
		s.mu.Unlock()
		if rep == nil {
			return map[string]any{"report": nil}, nil
		}
		return map[string]any{"report": rep}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[req]())
}
