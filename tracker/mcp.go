// CLAUDE:SUMMARY Registers the domsig MCP tools: sign, check, history, compare and lookup.
package tracker

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domsig/kit"
	"github.com/hazyhaar/domsig/observability"
	"github.com/hazyhaar/domsig/signature"
)

// RegisterMCP registers the domsig tools on an MCP server.
func (t *Tracker) RegisterMCP(srv *mcp.Server) {
	t.registerSignTool(srv)
	t.registerCheckTool(srv)
	t.registerHistoryTool(srv)
	t.registerCompareTool(srv)
	t.registerLookupTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var modeProperty = map[string]any{
	"type":        "string",
	"description": "Mode letters: c (class), i (id), t (text). Default t. Unknown letters are ignored.",
}

func (t *Tracker) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Logging(t.logger, tool.Name)
	if a := t.auditor(); a != nil {
		mw = kit.Chain(mw, observability.Audit(a, tool.Name))
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

// modeOrDefault treats an absent mode as the configured default.
func (t *Tracker) modeOrDefault(s *string) signature.Mode {
	if s == nil {
		return t.config().SignatureMode()
	}
	return signature.ParseMode(*s)
}

// --- sign ---

type signRequest struct {
	HTML string  `json:"html"`
	Mode *string `json:"mode,omitempty"`
	Root string  `json:"root,omitempty"`
}

func (t *Tracker) registerSignTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domsig_sign",
		Description: "Sign an HTML document. Returns the signature of every element under the root. Identical subtrees share a signature.",
		InputSchema: inputSchema(map[string]any{
			"html": map[string]any{"type": "string", "description": "HTML document or fragment"},
			"mode": modeProperty,
			"root": map[string]any{"type": "string", "description": "id attribute of the element to sign (default: whole document)"},
		}, []string{"html"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*signRequest)
		if r.HTML == "" {
			return nil, errors.New("html is required")
		}
		return t.SignHTML(ctx, []byte(r.HTML), t.modeOrDefault(r.Mode), r.Root)
	}

	t.register(srv, tool, endpoint, kit.DecodeJSON[signRequest]())
}

// --- check ---

type checkRequest struct {
	PageID string `json:"page_id"`
}

func (t *Tracker) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domsig_check",
		Description: "Check a tracked page now. Stores a new report when its signatures changed and returns the delta against the previous report.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Configured page ID"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*checkRequest)
		return t.CheckID(ctx, r.PageID)
	}

	t.register(srv, tool, endpoint, kit.DecodeJSON[checkRequest]())
}

// --- history ---

type historyRequest struct {
	PageID string `json:"page_id"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *Tracker) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domsig_history",
		Description: "List stored reports of a page, newest first.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page ID"},
			"limit":   map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		return t.History(ctx, r.PageID, r.Limit)
	}

	t.register(srv, tool, endpoint, kit.DecodeJSON[historyRequest]())
}

// --- compare ---

type compareRequest struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

func (t *Tracker) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domsig_compare",
		Description: "Compare two stored reports. Lists added, removed, changed and moved subtrees by XPath.",
		InputSchema: inputSchema(map[string]any{
			"from_id": map[string]any{"type": "string", "description": "Older report ID"},
			"to_id":   map[string]any{"type": "string", "description": "Newer report ID"},
		}, []string{"from_id", "to_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*compareRequest)
		return t.Compare(ctx, r.FromID, r.ToID)
	}

	t.register(srv, tool, endpoint, kit.DecodeJSON[compareRequest]())
}

// --- lookup ---

type lookupRequest struct {
	Signature string `json:"signature"`
	Limit     int    `json:"limit,omitempty"`
}

func (t *Tracker) registerLookupTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domsig_lookup",
		Description: "Find where a subtree signature was seen across stored reports, newest first.",
		InputSchema: inputSchema(map[string]any{
			"signature": map[string]any{"type": "string", "description": "Signature such as v0:t:<hex>"},
			"limit":     map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, []string{"signature"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*lookupRequest)
		return t.Lookup(ctx, r.Signature, r.Limit)
	}

	t.register(srv, tool, endpoint, kit.DecodeJSON[lookupRequest]())
}
