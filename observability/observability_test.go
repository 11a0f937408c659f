package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domsig/dbopen"
	"github.com/hazyhaar/domsig/kit"
)

func testAudit(t *testing.T) *AuditLogger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	al := NewAuditLogger(db, 100)
	t.Cleanup(func() { al.Close() })
	return al
}

func TestAuditLogger_LogSync(t *testing.T) {
	al := testAudit(t)
	ctx := context.Background()

	if err := al.Log(ctx, &AuditEntry{Operation: "domsig_sign", Transport: "mcp"}); err != nil {
		t.Fatal(err)
	}
	entries, err := al.Query(ctx, AuditFilter{Operation: "domsig_sign"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d", len(entries))
	}
	e := entries[0]
	if e.Status != "success" || e.Parameters != "{}" || !strings.HasPrefix(e.EntryID, "audit_") {
		t.Errorf("defaults: %+v", e)
	}
}

func TestAuditLogger_LogAsyncFlushedOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	al := NewAuditLogger(db, 100)

	for range 3 {
		al.LogAsync(&AuditEntry{Operation: "domsig_check"})
	}
	al.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE operation='domsig_check'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count: got %d, want 3", count)
	}
}

func TestNewEntry(t *testing.T) {
	al := testAudit(t)

	ok := al.NewEntry("op", map[string]string{"page_id": "front"}, nil, 120*time.Millisecond)
	if ok.Status != "success" || ok.Parameters != `{"page_id":"front"}` || ok.DurationMs != 120 {
		t.Errorf("success entry: %+v", ok)
	}

	bad := al.NewEntry("op", nil, errors.New("boom"), 0)
	if bad.Status != "error" || bad.ErrorMessage != "boom" {
		t.Errorf("error entry: %+v", bad)
	}

	big := al.NewEntry("op", map[string]string{"html": strings.Repeat("x", MaxParametersSize)}, nil, 0)
	if !strings.Contains(big.Parameters, `"truncated":true`) {
		t.Errorf("large parameters should be truncated: %.60s", big.Parameters)
	}
}

func TestQueryFilters(t *testing.T) {
	al := testAudit(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	al.Log(ctx, &AuditEntry{Operation: "a", Timestamp: old})
	al.Log(ctx, &AuditEntry{Operation: "a", ErrorMessage: "failed"})
	al.Log(ctx, &AuditEntry{Operation: "b"})

	errs, _ := al.Query(ctx, AuditFilter{Status: "error"})
	if len(errs) != 1 || errs[0].Operation != "a" {
		t.Errorf("status filter: %+v", errs)
	}
	recent, _ := al.Query(ctx, AuditFilter{Since: time.Now().Add(-time.Hour)})
	if len(recent) != 2 {
		t.Errorf("since filter: got %d, want 2", len(recent))
	}

	n, err := al.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleanup: got %d, want 1", n)
	}
}

func TestAuditMiddleware(t *testing.T) {
	al := testAudit(t)
	ctx := kit.WithRequestID(kit.WithTransport(context.Background(), "mcp"), "req_9")

	ep := Audit(al, "domsig_lookup")(func(_ context.Context, req any) (any, error) {
		return nil, errors.New("invalid signature")
	})
	if _, err := ep(ctx, map[string]string{"signature": "x"}); err == nil {
		t.Fatal("error should propagate")
	}
	al.Close()

	entries, err := al.Query(context.Background(), AuditFilter{Operation: "domsig_lookup"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d", len(entries))
	}
	e := entries[0]
	if e.Transport != "mcp" || e.RequestID != "req_9" || e.Status != "error" {
		t.Errorf("entry: %+v", e)
	}
}
