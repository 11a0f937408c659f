package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fail := Logging(logger, "domsig_sign")(func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("boom")
	})
	ctx := WithRequestID(WithTransport(context.Background(), "mcp"), "req_1")
	if _, err := fail(ctx, nil); err == nil {
		t.Fatal("expected error")
	}
	out := buf.String()
	for _, want := range []string{`"op":"domsig_sign"`, `"transport":"mcp"`, `"request_id":"req_1"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	if v := GetRequestID(ctx); v != "" {
		t.Fatalf("request_id default: got %q", v)
	}
	if HasTransport(ctx) {
		t.Fatal("empty context should have no transport")
	}
}

func TestContext_LayersKeepEachOther(t *testing.T) {
	ctx := WithTransport(WithRequestID(context.Background(), "req_2"), "mcp_quic")
	if !HasTransport(ctx) || GetTransport(ctx) != "mcp_quic" {
		t.Errorf("transport: %q", GetTransport(ctx))
	}
	if GetRequestID(ctx) != "req_2" {
		t.Errorf("request id lost: %q", GetRequestID(ctx))
	}

	ctx = WithRequestID(ctx, "req_3")
	if GetRequestID(ctx) != "req_3" || GetTransport(ctx) != "mcp_quic" {
		t.Errorf("override: id=%q transport=%q", GetRequestID(ctx), GetTransport(ctx))
	}
}

type echoReq struct {
	Word string `json:"word"`
}

func TestRegisterMCPTool(t *testing.T) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "kit-test", Version: "0"}, nil)
	echo := func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Word == "" {
			return nil, errors.New("word required")
		}
		return map[string]string{"word": r.Word, "transport": GetTransport(ctx)}, nil
	}
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "echo a word",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"word": map[string]any{"type": "string"}},
		},
	}, echo, DecodeJSON[echoReq]())

	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	go func() {
		_ = srv.Run(ctx, st)
	}()
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got["word"] != "hi" || got["transport"] != "mcp" {
		t.Errorf("got %v", got)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("empty word should be a tool error")
	}
}
