// CLAUDE:SUMMARY CLI entry point for domsig: one-shot signing, tracker daemon, HTTP API and MCP over stdio or QUIC.
// Command domsig computes DOM subtree signatures.
//
// Usage:
//
//	domsig -file page.html -mode ct            # sign a file, JSON on stdout
//	domsig -url https://example.com -format table
//	domsig -file page.html -remote host:9444     # sign on a remote domsig over QUIC
//	domsig -config domsig.yaml                 # track configured pages
//	domsig -config domsig.yaml -serve :8080    # ... and expose the HTTP API
//	domsig -mcp                                # MCP tools over stdio
//	domsig -mcp-quic :9444                     # MCP tools over QUIC
//	domsig -config domsig.yaml -issue-token ops -scope write
//
// With http.jwt_secret set (or DOMSIG_JWT_SECRET in the environment) every
// /api route requires an "Authorization: Bearer" token.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domsig/auth"
	"github.com/hazyhaar/domsig/config"
	"github.com/hazyhaar/domsig/docsig"
	"github.com/hazyhaar/domsig/fetch"
	"github.com/hazyhaar/domsig/horosafe"
	"github.com/hazyhaar/domsig/mcpquic"
	"github.com/hazyhaar/domsig/observability"
	"github.com/hazyhaar/domsig/report"
	"github.com/hazyhaar/domsig/shield"
	"github.com/hazyhaar/domsig/signature"
	"github.com/hazyhaar/domsig/sink"
	"github.com/hazyhaar/domsig/store"
	"github.com/hazyhaar/domsig/tracker"
	"github.com/hazyhaar/domsig/watch"
)

const version = "0.1.0"

type options struct {
	file, url  string
	mode, root string
	format     string
	configPath string
	serve      string
	mcpStdio   bool
	mcpQUIC    string
	tlsCert    string
	tlsKey     string
	remote     string
	insecure   bool
	issueToken string
	scope      string
	tokenTTL   time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.file, "file", "", "sign an HTML file and exit")
	flag.StringVar(&o.url, "url", "", "sign a URL and exit")
	flag.StringVar(&o.mode, "mode", config.DefaultMode, "mode letters: c (class), i (id), t (text); - for none")
	flag.StringVar(&o.root, "root", "", "id attribute of the element to sign")
	flag.StringVar(&o.format, "format", "json", "output format for -file/-url: json or table")
	flag.StringVar(&o.configPath, "config", "", "path to domsig.yaml; tracks its pages")
	flag.StringVar(&o.serve, "serve", "", "HTTP API listen address, overrides http.addr")
	flag.BoolVar(&o.mcpStdio, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&o.mcpQUIC, "mcp-quic", "", "serve MCP tools over QUIC on this address")
	flag.StringVar(&o.tlsCert, "tls-cert", "", "TLS certificate for -mcp-quic (self-signed when empty)")
	flag.StringVar(&o.tlsKey, "tls-key", "", "TLS key for -mcp-quic")
	flag.StringVar(&o.remote, "remote", "", "sign -file/-url on the domsig MCP QUIC server at this address")
	flag.BoolVar(&o.insecure, "insecure", false, "skip certificate verification for -remote")
	flag.StringVar(&o.issueToken, "issue-token", "", "print an API token for this subject and exit")
	flag.StringVar(&o.scope, "scope", auth.ScopeRead, "scope of -issue-token: read or write")
	flag.DurationVar(&o.tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of -issue-token")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o, os.Stdout); err != nil {
		logger.Error("domsig: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options, stdout io.Writer) error {
	if o.issueToken != "" {
		return issueToken(o, stdout)
	}
	if o.file != "" || o.url != "" {
		return signOnce(ctx, o, stdout)
	}
	if o.configPath != "" || o.serve != "" || o.mcpStdio || o.mcpQUIC != "" {
		return serve(ctx, logger, o, stdout)
	}

	fmt.Fprintln(os.Stderr, "usage: domsig -file <html> | -url <url> | -config <file> [-serve <addr>] | -mcp | -mcp-quic <addr>")
	os.Exit(2)
	return nil
}

// issueToken prints a bearer token signed with the configured secret.
func issueToken(o options, w io.Writer) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	secret := jwtSecret(cfg)
	if secret == nil {
		return errors.New("-issue-token needs http.jwt_secret or DOMSIG_JWT_SECRET")
	}
	tok, err := auth.GenerateToken(secret, o.issueToken, o.scope, o.tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// jwtSecret returns the API secret, the environment taking precedence over
// the config file. Nil disables authentication.
func jwtSecret(cfg *config.Config) []byte {
	if s := os.Getenv("DOMSIG_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	if cfg.HTTP.JWTSecret != "" {
		return []byte(cfg.HTTP.JWTSecret)
	}
	return nil
}

// signOnce signs a single document and writes the report.
func signOnce(ctx context.Context, o options, w io.Writer) error {
	if o.file != "" && o.url != "" {
		return errors.New("-file and -url are mutually exclusive")
	}
	f := fetch.New(fetch.Config{})

	var (
		res *fetch.Result
		err error
		loc string
	)
	if o.file != "" {
		res, err = f.LoadFile(o.file, "")
		loc = o.file
	} else {
		res, err = f.Fetch(ctx, o.url, "")
		loc = o.url
	}
	if err != nil {
		return err
	}

	mode := signature.ParseMode(o.mode)
	var rep *report.Report
	if o.remote != "" {
		rep, err = signRemote(ctx, o, res.Body, mode)
	} else {
		rep, err = docsig.SignHTML(res.Body, docsig.Options{Mode: mode, Root: o.root})
	}
	if err != nil {
		return err
	}
	rep.PageURL = loc
	return writeReport(w, rep, o.format)
}

func signRemote(ctx context.Context, o options, body []byte, mode signature.Mode) (*report.Report, error) {
	c := mcpquic.NewClient(o.remote, mcpquic.ClientTLSConfig(o.insecure))
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Sign(ctx, body, mode.String(), o.root)
}

func writeReport(w io.Writer, rep *report.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "table":
		_, err := fmt.Fprintln(w, renderReport(rep))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderReport(rep *report.Report) string {
	rows := make([][]string, 0, len(rep.Nodes))
	for _, n := range rep.Nodes {
		rows = append(rows, []string{n.XPath, n.Tag, strconv.Itoa(n.TextLen), shortSignature(n.Signature)})
	}
	return renderTable(
		[]string{"XPath", "Tag", "Text", "Signature"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

// shortSignature keeps the version, the mode and 12 digest characters.
func shortSignature(sig string) string {
	i := strings.LastIndexByte(sig, ':')
	if i < 0 || len(sig)-i-1 <= 12 {
		return sig
	}
	return sig[:i+13] + "…"
}

// serve runs the tracker and the requested surfaces until ctx is cancelled.
func serve(ctx context.Context, logger *slog.Logger, o options, stdout io.Writer) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.serve != "" {
		cfg.HTTP.Addr = o.serve
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	f := fetch.New(fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})

	// stdout carries the MCP protocol in -mcp mode.
	sinks := buildSinks(cfg, logger, stdout, !o.mcpStdio)
	tr := tracker.New(cfg, st, f, logger, sinks...)
	defer tr.Close()

	errc := make(chan error, 3)

	if o.configPath != "" {
		go tr.Run(ctx)
		go watchConfig(ctx, logger, o.configPath, tr)
	}

	if cfg.HTTP.Addr != "" {
		go func() { errc <- serveHTTP(ctx, logger, tr, cfg) }()
	}

	var mcpSrv *mcp.Server
	if o.mcpStdio || o.mcpQUIC != "" {
		if err := observability.Init(st.DB); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
		audit := observability.NewAuditLogger(st.DB, 1000, observability.WithAuditLogger(logger))
		defer audit.Close()
		tr.SetAudit(audit)

		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "domsig", Version: version}, nil)
		tr.RegisterMCP(mcpSrv)
	}
	if o.mcpQUIC != "" {
		go func() { errc <- serveQUIC(ctx, logger, mcpSrv, o) }()
	}
	if o.mcpStdio {
		go func() {
			logger.Info("domsig: MCP on stdio")
			errc <- mcpSrv.Run(ctx, &mcp.StdioTransport{})
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// watchConfig reloads the tracked pages when the config file changes.
func watchConfig(ctx context.Context, logger *slog.Logger, path string, tr *tracker.Tracker) {
	w := watch.New(watch.Options{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
		Detector: watch.FileModTime(path),
		Logger:   logger,
	})
	w.OnChange(ctx, func() error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		tr.Reload(cfg)
		return nil
	})
}

func buildSinks(cfg *config.Config, logger *slog.Logger, stdout io.Writer, allowStdout bool) []sink.Sink {
	var sinks []sink.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			if !allowStdout {
				logger.Warn("domsig: stdout sink disabled while MCP uses stdio")
				continue
			}
			sinks = append(sinks, sink.NewStdout(stdout))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			if sc.Secret != "" {
				opts = append(opts, sink.WithWebhookSecret([]byte(sc.Secret)))
			}
			hook := sink.NewWebhook(sc.URL, opts...)
			sinks = append(sinks, sink.NewBreaker(hook, "webhook "+sc.URL))
		}
	}
	if len(cfg.Sinks) == 0 && allowStdout && len(cfg.Pages) > 0 {
		sinks = append(sinks, sink.NewStdout(stdout))
	}
	return sinks
}

func serveHTTP(ctx context.Context, logger *slog.Logger, tr *tracker.Tracker, cfg *config.Config) error {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(logger, cfg.Fetch.MaxBytes) {
		r.Use(mw)
	}
	if secret := jwtSecret(cfg); secret != nil {
		if err := horosafe.ValidateSecret(secret); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		r.Use(auth.Middleware(secret, "/health"))
		logger.Info("domsig: http api requires bearer tokens")
	}
	tr.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("domsig: http shutdown", "error", err)
		}
	}()

	logger.Info("domsig: http listening", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

func serveQUIC(ctx context.Context, logger *slog.Logger, mcpSrv *mcp.Server, o options) error {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if o.tlsCert != "" && o.tlsKey != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(o.tlsCert, o.tlsKey)
	} else {
		logger.Warn("domsig: MCP QUIC uses a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return fmt.Errorf("mcp quic tls: %w", err)
	}

	l, err := mcpquic.NewListener(o.mcpQUIC, tlsCfg, mcpSrv, logger)
	if err != nil {
		return fmt.Errorf("mcp quic: %w", err)
	}
	defer l.Close()
	return l.Serve(ctx)
}
