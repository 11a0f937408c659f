package kit

import "context"

// call is the per-invocation metadata shared by every transport.
type call struct {
	transport string // "http", "mcp", "mcp_quic"
	requestID string
}

type callKey struct{}

func callFrom(ctx context.Context) call {
	c, _ := ctx.Value(callKey{}).(call)
	return c
}

// WithTransport records the transport that delivered the call.
func WithTransport(ctx context.Context, transport string) context.Context {
	c := callFrom(ctx)
	c.transport = transport
	return context.WithValue(ctx, callKey{}, c)
}

// HasTransport reports whether a transport was recorded on ctx.
func HasTransport(ctx context.Context) bool {
	return callFrom(ctx).transport != ""
}

// GetTransport returns the recorded transport, "http" when none was set.
func GetTransport(ctx context.Context) string {
	if t := callFrom(ctx).transport; t != "" {
		return t
	}
	return "http"
}

// WithRequestID attaches the request or session ID of the call.
func WithRequestID(ctx context.Context, id string) context.Context {
	c := callFrom(ctx)
	c.requestID = id
	return context.WithValue(ctx, callKey{}, c)
}

func GetRequestID(ctx context.Context) string {
	return callFrom(ctx).requestID
}
