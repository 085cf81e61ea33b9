// Package kit holds the small transport-agnostic endpoint plumbing shared by
// the HTTP and MCP surfaces: the Endpoint type, context keys for request
// metadata, and the MCP tool registration helper.
package kit

import "context"

// Endpoint is a transport-agnostic operation: decode happens in the
// transport layer, business logic receives a typed request.
type Endpoint func(ctx context.Context, request any) (any, error)

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey contextKey = "kit_request_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
