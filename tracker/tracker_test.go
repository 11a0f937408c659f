package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domsig/config"
	"github.com/hazyhaar/domsig/dbopen"
	"github.com/hazyhaar/domsig/fetch"
	"github.com/hazyhaar/domsig/report"
	"github.com/hazyhaar/domsig/signature"
	"github.com/hazyhaar/domsig/sink"
	"github.com/hazyhaar/domsig/store"
)

const (
	pageV1 = `<html><body><main id="content"><p>First paragraph here.</p><p>Second paragraph here.</p></main></body></html>`
	pageV2 = `<html><body><main id="content"><p>First paragraph here.</p><p>Second paragraph edited.</p></main></body></html>`
	// Same signatures as pageV2, different bytes.
	pageV2Comment = `<html><body><!-- build 42 --><main id="content"><p>First paragraph here.</p><p>Second paragraph edited.</p></main></body></html>`
	pageV3        = `<html><body><main id="content"><p>First paragraph here.</p></main></body></html>`
)

type recorder struct {
	mu      sync.Mutex
	reports []report.Report
	deltas  []report.Delta
}

func (r *recorder) sink() sink.Sink {
	return sink.NewCallback(
		func(_ context.Context, rep report.Report) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reports = append(r.reports, rep)
			return nil
		},
		func(_ context.Context, d report.Delta) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.deltas = append(r.deltas, d)
			return nil
		},
	)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports), len(r.deltas)
}

func testConfig(pages ...config.PageConfig) *config.Config {
	return &config.Config{
		Mode:     "t",
		Keep:     2,
		Interval: time.Hour,
		Fetch:    config.FetchConfig{MaxBytes: 1 << 20},
		Pages:    pages,
	}
}

func testTracker(t *testing.T, cfg *config.Config) (*Tracker, *recorder) {
	t.Helper()
	st := &store.Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))}
	f := fetch.New(fetch.Config{URLValidator: func(string) error { return nil }})
	rec := &recorder{}
	return New(cfg, st, f, nil, rec.sink()), rec
}

func writePage(t *testing.T, path, src string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheck_FileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	page := config.PageConfig{ID: "doc", File: path, Mode: "t"}
	tr, rec := testTracker(t, testConfig(page))
	ctx := context.Background()

	// First check: stored, nothing to compare against.
	writePage(t, path, pageV1)
	res, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stored || res.Delta != nil {
		t.Fatalf("first check: stored=%v delta=%v", res.Stored, res.Delta)
	}
	first := res.Report.ID

	// Same bytes: short-circuits on the HTML hash.
	res, err = tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored || res.Report.ID != first {
		t.Fatalf("unchanged check: stored=%v id=%s", res.Stored, res.Report.ID)
	}

	// Edited paragraph: stored with a delta.
	writePage(t, path, pageV2)
	res, err = tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stored || res.Delta == nil {
		t.Fatalf("edit: stored=%v delta=%v", res.Stored, res.Delta)
	}
	if !slices.Contains(res.Delta.Changed, "/html/body/main/p[2]") {
		t.Errorf("changed: %v", res.Delta.Changed)
	}
	if slices.Contains(res.Delta.Changed, "/html/body/main/p[1]") {
		t.Errorf("first paragraph should be unchanged: %v", res.Delta.Changed)
	}
	if res.Delta.FromID != first {
		t.Errorf("from: %s, want %s", res.Delta.FromID, first)
	}

	// Comment only: bytes differ, signatures do not.
	writePage(t, path, pageV2Comment)
	res, err = tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored {
		t.Error("comment-only change should not be stored")
	}

	reports, deltas := rec.counts()
	if reports != 2 || deltas != 1 {
		t.Errorf("sinks: reports=%d deltas=%d, want 2 and 1", reports, deltas)
	}
}

func TestCheck_EmptySiblingShiftsXPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	page := config.PageConfig{ID: "doc", File: path, Mode: "t"}
	tr, _ := testTracker(t, testConfig(page))
	ctx := context.Background()

	writePage(t, path, `<html><body><div>first section text</div></body></html>`)
	first, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}

	// The empty div carries no text, so the root signature is unchanged.
	writePage(t, path, `<html><body><div></div><div>first section text</div></body></html>`)
	res, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.RootSignature != first.Report.RootSignature {
		t.Fatalf("root signature moved: %s vs %s", res.Report.RootSignature, first.Report.RootSignature)
	}
	if !res.Stored {
		t.Fatal("shifted XPaths should be stored")
	}
	if len(res.Delta.Moved) != 1 || res.Delta.Moved[0].To != "/html/body/div[2]" {
		t.Errorf("moved: %+v", res.Delta.Moved)
	}

	latest, err := tr.History(ctx, page.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].ID != res.Report.ID {
		t.Fatalf("history: %+v", latest)
	}

	// Comment only: nothing stored, and the returned report is the stored one.
	writePage(t, path, `<html><body><div></div><!-- note --><div>first section text</div></body></html>`)
	res, err = tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored {
		t.Fatal("comment-only change should not be stored")
	}
	got, err := tr.Report(ctx, res.Report.ID)
	if err != nil {
		t.Fatalf("returned report is not stored: %v", err)
	}
	if !slices.Contains(xpathsOf(got), "/html/body/div[2]") {
		t.Errorf("stored xpaths: %v", xpathsOf(got))
	}
}

func xpathsOf(r *report.Report) []string {
	var out []string
	for _, n := range r.Nodes {
		out = append(out, n.XPath)
	}
	return out
}

func TestCheck_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	page := config.PageConfig{ID: "doc", File: path, Mode: "t"}
	tr, _ := testTracker(t, testConfig(page))
	ctx := context.Background()

	for _, src := range []string{pageV1, pageV2, pageV3} {
		writePage(t, path, src)
		if _, err := tr.Check(ctx, page); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := tr.History(ctx, "doc", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history: got %d reports, want 2", len(hist))
	}
}

func TestCheck_ModeChangeSkipsCompare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	writePage(t, path, pageV1)
	page := config.PageConfig{ID: "doc", File: path, Mode: "t"}
	tr, _ := testTracker(t, testConfig(page))
	ctx := context.Background()

	if _, err := tr.Check(ctx, page); err != nil {
		t.Fatal(err)
	}
	page.Mode = "ct"
	res, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stored || res.Delta != nil {
		t.Errorf("mode change: stored=%v delta=%v", res.Stored, res.Delta)
	}
	if res.Report.Mode != "ct" {
		t.Errorf("mode: %q", res.Report.Mode)
	}
}

func TestCheck_Root(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	writePage(t, path, pageV1)
	tr, _ := testTracker(t, testConfig())
	ctx := context.Background()

	res, err := tr.Check(ctx, config.PageConfig{ID: "doc", File: path, Mode: "t", Root: "content"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.Nodes[0].XPath != "/html/body/main" {
		t.Errorf("root node: %s", res.Report.Nodes[0].XPath)
	}

	_, err = tr.Check(ctx, config.PageConfig{ID: "other", File: path, Mode: "t", Root: "missing"})
	if err == nil {
		t.Fatal("missing root should fail")
	}
}

func TestCheck_URL(t *testing.T) {
	body := pageV1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	page := config.PageConfig{ID: "web", URL: srv.URL, Mode: "t"}
	tr, _ := testTracker(t, testConfig(page))

	res, err := tr.CheckID(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.PageURL != srv.URL {
		t.Errorf("page url: %q", res.Report.PageURL)
	}

	if _, err := tr.CheckID(context.Background(), "nope"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("unknown page: %v", err)
	}
}

func TestCheckAll_ContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.html")
	writePage(t, good, pageV1)
	cfg := testConfig(
		config.PageConfig{ID: "missing", File: filepath.Join(dir, "missing.html"), Mode: "t"},
		config.PageConfig{ID: "good", File: good, Mode: "t"},
	)
	tr, rec := testTracker(t, cfg)

	if failed := tr.CheckAll(context.Background()); failed != 1 {
		t.Errorf("failed: got %d, want 1", failed)
	}
	if reports, _ := rec.counts(); reports != 1 {
		t.Errorf("reports: got %d, want 1", reports)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	writePage(t, path, pageV1)
	cfg := testConfig(config.PageConfig{ID: "doc", File: path, Mode: "t"})
	tr, rec := testTracker(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if n, _ := rec.counts(); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial check did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCompareAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	page := config.PageConfig{ID: "doc", File: path, Mode: "t"}
	tr, _ := testTracker(t, testConfig(page))
	ctx := context.Background()

	writePage(t, path, pageV1)
	r1, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	writePage(t, path, pageV3)
	r2, err := tr.Check(ctx, page)
	if err != nil {
		t.Fatal(err)
	}

	d, err := tr.Compare(ctx, r1.Report.ID, r2.Report.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(d.Removed, "/html/body/main/p[2]") {
		t.Errorf("removed: %v", d.Removed)
	}

	if _, err := tr.Compare(ctx, r1.Report.ID, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing report: %v", err)
	}

	// "First paragraph here." survives both versions under different XPaths.
	var sig string
	for _, n := range r1.Report.Nodes {
		if n.XPath == "/html/body/main/p[1]" {
			sig = n.Signature
		}
	}
	occ, err := tr.Lookup(ctx, sig, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 2 {
		t.Errorf("occurrences: got %d, want 2", len(occ))
	}

	if _, err := tr.Lookup(ctx, "v0:t:nothex", 0); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("invalid signature: %v", err)
	}
}

func TestSignHTML(t *testing.T) {
	tr, _ := testTracker(t, testConfig())
	rep, err := tr.SignHTML(context.Background(), []byte(pageV1), signature.Mode{Text: true}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !signature.Valid(rep.RootSignature) || rep.ID == "" {
		t.Errorf("report: %+v", rep)
	}
	hist, _ := tr.History(context.Background(), "", 10)
	if len(hist) != 0 {
		t.Error("SignHTML must not store")
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	writePage(t, path, pageV1)
	tr, _ := testTracker(t, testConfig())
	ctx := context.Background()

	if _, err := tr.CheckID(ctx, "doc"); !errors.Is(err, ErrUnknownPage) {
		t.Fatalf("before reload: %v", err)
	}
	tr.Reload(testConfig(config.PageConfig{ID: "doc", File: path, Mode: "t"}))
	if _, err := tr.CheckID(ctx, "doc"); err != nil {
		t.Fatalf("after reload: %v", err)
	}
}
