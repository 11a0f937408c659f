// CLAUDE:SUMMARY Change-detection service: loads tracked pages, signs them, stores reports, compares with history and fans out to sinks.
// Package tracker watches configured documents for subtree changes.
//
// Each check loads a page, signs it with docsig, stores the report, compares
// it with the previous report of the same page and hands both to the sinks.
// The same operations are exposed as MCP tools and as a JSON HTTP API.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domsig/config"
	"github.com/hazyhaar/domsig/docsig"
	"github.com/hazyhaar/domsig/fetch"
	"github.com/hazyhaar/domsig/observability"
	"github.com/hazyhaar/domsig/report"
	"github.com/hazyhaar/domsig/signature"
	"github.com/hazyhaar/domsig/sink"
	"github.com/hazyhaar/domsig/store"
)

// ErrUnknownPage is returned for a page ID absent from the configuration.
var ErrUnknownPage = errors.New("tracker: unknown page")

// ErrInvalidSignature is returned when a lookup is given a malformed signature.
var ErrInvalidSignature = errors.New("tracker: invalid signature")

// Tracker runs checks over the configured pages.
type Tracker struct {
	mu      sync.RWMutex
	cfg     *config.Config
	store   *store.Store
	fetcher *fetch.Fetcher
	sinks   *sink.Router
	audit   *observability.AuditLogger
	logger  *slog.Logger
}

// New creates a Tracker. A nil logger means slog.Default().
func New(cfg *config.Config, st *store.Store, f *fetch.Fetcher, logger *slog.Logger, sinks ...sink.Sink) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:     cfg,
		store:   st,
		fetcher: f,
		sinks:   sink.NewRouter(logger, sinks...),
		logger:  logger,
	}
}

func (t *Tracker) config() *config.Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Reload replaces the configuration used by later checks. The store, the
// fetcher, the sinks and the check interval keep their startup values.
func (t *Tracker) Reload(cfg *config.Config) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.logger.Info("tracker: config reloaded", "pages", len(cfg.Pages))
}

// SetAudit records MCP tool calls registered after this call in a.
func (t *Tracker) SetAudit(a *observability.AuditLogger) {
	t.mu.Lock()
	t.audit = a
	t.mu.Unlock()
}

func (t *Tracker) auditor() *observability.AuditLogger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.audit
}

// CheckResult is the outcome of one page check.
type CheckResult struct {
	PageID string         `json:"page_id"`
	Report *report.Report `json:"report,omitempty"`
	Delta  *report.Delta  `json:"delta,omitempty"` // nil without a related previous report
	// Stored is false when the document was unchanged, either byte for byte
	// or node for node. Report is then the stored latest report.
	Stored bool `json:"stored"`
}

// CheckID checks the configured page with the given ID.
func (t *Tracker) CheckID(ctx context.Context, pageID string) (*CheckResult, error) {
	page, ok := t.config().Page(pageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	return t.Check(ctx, page)
}

// Check loads, signs and records one page.
func (t *Tracker) Check(ctx context.Context, page config.PageConfig) (*CheckResult, error) {
	mode := page.SignatureMode()

	prev, err := t.store.LatestReport(ctx, page.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("tracker: %s: latest report: %w", page.ID, err)
	}
	related := prev != nil && prev.Mode == mode.String() && prev.Root == page.Root

	prevHash := ""
	if related {
		prevHash = prev.HTMLHash
	}
	res, err := t.load(ctx, page, prevHash)
	if err != nil {
		return nil, fmt.Errorf("tracker: %s: %w", page.ID, err)
	}
	if related && !res.Changed {
		t.logger.Debug("tracker: document unchanged", "page_id", page.ID)
		return &CheckResult{PageID: page.ID, Report: prev}, nil
	}

	cur, err := docsig.SignHTML(res.Body, docsig.Options{
		Mode:    mode,
		Root:    page.Root,
		PageID:  page.ID,
		PageURL: location(page),
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: %s: sign: %w", page.ID, err)
	}

	stored, err := t.store.InsertReport(ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("tracker: %s: store: %w", page.ID, err)
	}
	if !stored {
		t.logger.Debug("tracker: signatures unchanged", "page_id", page.ID)
		latest, err := t.store.LatestReport(ctx, page.ID)
		if err != nil {
			return nil, fmt.Errorf("tracker: %s: latest report: %w", page.ID, err)
		}
		return &CheckResult{PageID: page.ID, Report: latest}, nil
	}
	out := &CheckResult{PageID: page.ID, Report: cur, Stored: true}

	if pruned, err := t.store.Prune(ctx, page.ID, t.config().Keep); err != nil {
		t.logger.Warn("tracker: prune failed", "page_id", page.ID, "error", err)
	} else if pruned > 0 {
		t.logger.Debug("tracker: pruned reports", "page_id", page.ID, "count", pruned)
	}

	if related {
		out.Delta, err = docsig.Compare(prev, cur)
		if err != nil {
			return nil, fmt.Errorf("tracker: %s: compare: %w", page.ID, err)
		}
	}

	_ = t.sinks.SendReport(ctx, *cur)
	if out.Delta != nil && !out.Delta.Empty() {
		_ = t.sinks.SendDelta(ctx, *out.Delta)
		t.logger.Info("tracker: page changed",
			"page_id", page.ID,
			"changed", len(out.Delta.Changed),
			"added", len(out.Delta.Added),
			"removed", len(out.Delta.Removed),
			"moved", len(out.Delta.Moved))
	}
	return out, nil
}

func (t *Tracker) load(ctx context.Context, page config.PageConfig, prevHash string) (*fetch.Result, error) {
	if page.File != "" {
		return t.fetcher.LoadFile(page.File, prevHash)
	}
	return t.fetcher.Fetch(ctx, page.URL, prevHash)
}

func location(page config.PageConfig) string {
	if page.URL != "" {
		return page.URL
	}
	return page.File
}

// CheckAll checks every configured page. A failing page is logged and does
// not stop the others. It returns the number of failures.
func (t *Tracker) CheckAll(ctx context.Context) int {
	var failed int
	for _, page := range t.config().Pages {
		if ctx.Err() != nil {
			break
		}
		if _, err := t.Check(ctx, page); err != nil {
			failed++
			t.logger.Warn("tracker: check failed", "page_id", page.ID, "error", err)
		}
	}
	return failed
}

// Run checks all pages immediately and then every configured interval until
// ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	cfg := t.config()
	t.logger.Info("tracker: started", "pages", len(cfg.Pages), "interval", cfg.Interval)
	t.CheckAll(ctx)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker: stopped")
			return
		case <-ticker.C:
			t.CheckAll(ctx)
		}
	}
}

// SignHTML signs a document without storing it.
func (t *Tracker) SignHTML(_ context.Context, raw []byte, mode signature.Mode, root string) (*report.Report, error) {
	return docsig.SignHTML(raw, docsig.Options{Mode: mode, Root: root})
}

// History lists the stored reports of a page, newest first, without nodes.
func (t *Tracker) History(ctx context.Context, pageID string, limit int) ([]*report.Report, error) {
	return t.store.ListReports(ctx, pageID, limit)
}

// Report returns a stored report with its nodes.
func (t *Tracker) Report(ctx context.Context, id string) (*report.Report, error) {
	return t.store.GetReport(ctx, id)
}

// Compare builds the delta between two stored reports.
func (t *Tracker) Compare(ctx context.Context, fromID, toID string) (*report.Delta, error) {
	from, err := t.store.GetReport(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("tracker: from %s: %w", fromID, err)
	}
	to, err := t.store.GetReport(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("tracker: to %s: %w", toID, err)
	}
	return docsig.Compare(from, to)
}

// Lookup lists stored occurrences of a subtree signature.
func (t *Tracker) Lookup(ctx context.Context, sig string, limit int) ([]store.Occurrence, error) {
	if !signature.Valid(sig) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}
	return t.store.FindSignature(ctx, sig, limit)
}

// Close releases the sinks.
func (t *Tracker) Close() error {
	return t.sinks.Close()
}
