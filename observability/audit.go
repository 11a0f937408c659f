// CLAUDE:SUMMARY Async SQLite audit trail of domsig operations with batched flushes, queries and retention cleanup.
// Package observability records an audit trail of the operations served by
// domsig over MCP and HTTP.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domsig/idgen"
)

// AuditEntry is a single operation record.
type AuditEntry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"` // e.g. "domsig_check"
	Transport    string    `json:"transport"`
	RequestID    string    `json:"request_id,omitempty"`
	Parameters   string    `json:"parameters"` // JSON
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"` // "success" or "error"
}

// AuditFilter selects entries in Query. Zero fields match everything.
type AuditFilter struct {
	Operation string
	Status    string
	Since     time.Time
	Limit     int // default 100
}

// AuditLogger persists audit entries asynchronously in batches.
type AuditLogger struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
	ch     chan *AuditEntry
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets a custom ID generator for audit entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditLogger sets the logger used for flush failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger creates an async audit logger. The audit_log table must
// exist (see Init).
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	a := &AuditLogger{
		db:     db,
		logger: slog.Default(),
		newID:  idgen.Prefixed("audit_", idgen.Default),
		ch:     make(chan *AuditEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// MaxParametersSize bounds the stored JSON of an entry's parameters. Larger
// parameters are replaced by a size marker.
const MaxParametersSize = 4096

// NewEntry builds an entry from an operation outcome. params is stored as
// JSON.
func (a *AuditLogger) NewEntry(operation string, params any, err error, duration time.Duration) *AuditEntry {
	e := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  time.Now(),
		Operation:  operation,
		Parameters: "{}",
		DurationMs: duration.Milliseconds(),
		Status:     "success",
	}
	if params != nil {
		if b, jerr := json.Marshal(params); jerr == nil {
			if len(b) > MaxParametersSize {
				b = fmt.Appendf(nil, `{"truncated":true,"size":%d}`, len(b))
			}
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = "error"
		e.ErrorMessage = err.Error()
	}
	return e
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *AuditEntry) error {
	a.fillDefaults(e)
	return a.insert(ctx, a.db, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous insert.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		a.logger.Warn("observability: audit buffer full, sync fallback", "operation", e.Operation)
		if err := a.insert(context.Background(), a.db, e); err != nil {
			a.logger.Error("observability: audit sync fallback failed", "error", err)
		}
	}
}

// Query returns matching entries, newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, operation, transport, request_id,
		parameters, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.EntryID, &ts, &e.Operation, &e.Transport, &e.RequestID,
			&e.Parameters, &e.ErrorMessage, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("observability: scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (a *AuditLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup audit log: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine. It is safe to call
// more than once.
func (a *AuditLogger) Close() error {
	a.once.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("observability: audit begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := a.insert(ctx, tx, e); err != nil {
				a.logger.Error("observability: audit insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("observability: audit commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *AuditLogger) insert(ctx context.Context, db execer, e *AuditEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, operation, transport, request_id,
		 parameters, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.Operation, e.Transport, e.RequestID,
		e.Parameters, e.ErrorMessage, e.DurationMs, e.Status)
	return err
}
