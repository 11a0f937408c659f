package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domsig/auth"
	"github.com/hazyhaar/domsig/config"
	"github.com/hazyhaar/domsig/fetch"
	"github.com/hazyhaar/domsig/mcpquic"
	"github.com/hazyhaar/domsig/report"
	"github.com/hazyhaar/domsig/signature"
	"github.com/hazyhaar/domsig/tracker"
)

const page = `<html><body><div class="card" id="a"><p>Signed paragraph text.</p></div></body></html>`

func writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSignOnce_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := signOnce(context.Background(), options{file: writeFile(t), mode: "ci", format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	var rep report.Report
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Mode != "ci" || !signature.Valid(rep.RootSignature) {
		t.Errorf("report: mode=%q root=%q", rep.Mode, rep.RootSignature)
	}
}

func TestSignOnce_TableWithRoot(t *testing.T) {
	var buf bytes.Buffer
	err := signOnce(context.Background(), options{file: writeFile(t), mode: "t", root: "a", format: "table"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "/html/body/div/p") || !strings.Contains(out, "v0:t:") {
		t.Errorf("table:\n%s", out)
	}
	if strings.Contains(out, " body ") {
		t.Errorf("rows outside the root:\n%s", out)
	}
}

func TestSignOnce_Errors(t *testing.T) {
	path := writeFile(t)
	cases := map[string]options{
		"both sources":   {file: path, url: "https://example.com", format: "json"},
		"unknown format": {file: path, format: "xml"},
		"missing root":   {file: path, root: "nope", format: "json"},
		"missing file":   {file: filepath.Join(t.TempDir(), "none.html"), format: "json"},
	}
	for name, o := range cases {
		if err := signOnce(context.Background(), o, io.Discard); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestShortSignature(t *testing.T) {
	sig := "v0:ct:" + strings.Repeat("ab", 32)
	if got := shortSignature(sig); got != "v0:ct:abababababab…" {
		t.Errorf("got %q", got)
	}
	if got := shortSignature(""); got != "" {
		t.Errorf("empty: %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"x"}, {"y", "z"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"x", "y", "z", "╭"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("no headers should render nothing")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg, err := config.Parse([]byte(`
pages:
  - url: https://example.com/
sinks:
  - type: stdout
  - type: webhook
    url: https://hooks.example.com/x
`))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := len(buildSinks(cfg, logger, io.Discard, true)); got != 2 {
		t.Errorf("sinks: got %d, want 2", got)
	}
	if got := len(buildSinks(cfg, logger, io.Discard, false)); got != 1 {
		t.Errorf("sinks without stdout: got %d, want 1", got)
	}

	cfg.Sinks = nil
	if got := len(buildSinks(cfg, logger, io.Discard, true)); got != 1 {
		t.Errorf("default sink: got %d, want 1", got)
	}
}

func TestIssueToken(t *testing.T) {
	secret := strings.Repeat("z", 32)
	t.Setenv("DOMSIG_JWT_SECRET", secret)

	var out bytes.Buffer
	o := options{issueToken: "ops", scope: auth.ScopeWrite, tokenTTL: time.Hour}
	if err := issueToken(o, &out); err != nil {
		t.Fatal(err)
	}
	c, err := auth.ValidateToken([]byte(secret), strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if c.Subject != "ops" || !c.Allows(auth.ScopeWrite) {
		t.Errorf("claims: %+v", c)
	}
}

func TestIssueToken_NoSecret(t *testing.T) {
	t.Setenv("DOMSIG_JWT_SECRET", "")
	o := options{issueToken: "ops", scope: auth.ScopeRead, tokenTTL: time.Hour}
	if err := issueToken(o, io.Discard); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestSignOnce_Remote(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracker.New(cfg, nil, fetch.New(fetch.Config{}), logger)
	srv := mcp.NewServer(&mcp.Implementation{Name: "domsig", Version: version}, nil)
	tr.RegisterMCP(srv)

	tlsCfg, err := mcpquic.SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	l, err := mcpquic.NewListener("127.0.0.1:0", tlsCfg, srv, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go l.Serve(ctx)

	path := writeFile(t)
	var local, remote bytes.Buffer
	if err := signOnce(ctx, options{file: path, mode: "ci", format: "json"}, &local); err != nil {
		t.Fatal(err)
	}
	o := options{file: path, mode: "ci", format: "json", remote: l.Addr().String(), insecure: true}
	if err := signOnce(ctx, o, &remote); err != nil {
		t.Fatalf("remote: %v", err)
	}

	var a, b report.Report
	if err := json.Unmarshal(local.Bytes(), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(remote.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if a.RootSignature != b.RootSignature || len(a.Nodes) != len(b.Nodes) || b.PageURL != path {
		t.Errorf("remote report differs: local %s/%d remote %s/%d url %q",
			a.RootSignature, len(a.Nodes), b.RootSignature, len(b.Nodes), b.PageURL)
	}
}
