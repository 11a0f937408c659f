// CLAUDE:SUMMARY SQLite persistence for signature reports: deduplicated inserts, history, pruning and signature lookup.
// Package store persists signature reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/domsig/dbopen"
	"github.com/hazyhaar/domsig/report"
)

// ErrNotFound is returned when no report matches.
var ErrNotFound = errors.New("store: not found")

// Store is the domsig database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and migrates its schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithMigrations(Migrations...),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// InsertReport stores r with its node signatures. It returns false without
// writing anything when the latest report of the same page has the same mode
// and root and the same node list, XPaths and signatures in document order.
// An equal root signature alone is not enough: a shifted XPath is a change.
func (s *Store) InsertReport(ctx context.Context, r *report.Report) (bool, error) {
	inserted := false
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var id, mode, root, sig string
		err := tx.QueryRowContext(ctx, `
			SELECT id, mode, root, root_signature FROM sig_reports
			WHERE page_id = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`, r.PageID).Scan(&id, &mode, &root, &sig)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("store: latest: %w", err)
		case mode == r.Mode && root == r.Root && sig == r.RootSignature:
			same, err := sameNodes(ctx, tx, id, r.Nodes)
			if err != nil {
				return err
			}
			if same {
				return nil
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sig_reports
				(id, page_id, page_url, mode, root, html_hash, root_signature, node_count, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, r.PageID, r.PageURL, r.Mode, r.Root, r.HTMLHash, r.RootSignature,
			len(r.Nodes), r.Timestamp)
		if err != nil {
			return fmt.Errorf("store: insert report: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sig_nodes (report_id, seq, xpath, tag, signature, text_len)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("store: prepare nodes: %w", err)
		}
		defer stmt.Close()

		for i, n := range r.Nodes {
			if _, err := stmt.ExecContext(ctx, r.ID, i, n.XPath, n.Tag, n.Signature, n.TextLen); err != nil {
				return fmt.Errorf("store: insert node %s: %w", n.XPath, err)
			}
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// sameNodes reports whether the stored nodes of report id match nodes
// position by position on XPath and signature.
func sameNodes(ctx context.Context, tx *sql.Tx, id string, nodes []report.NodeSignature) (bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT xpath, signature FROM sig_nodes
		WHERE report_id = ? ORDER BY seq`, id)
	if err != nil {
		return false, fmt.Errorf("store: latest nodes: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var xpath, sig string
		if err := rows.Scan(&xpath, &sig); err != nil {
			return false, fmt.Errorf("store: scan node: %w", err)
		}
		if i >= len(nodes) || nodes[i].XPath != xpath || nodes[i].Signature != sig {
			return false, nil
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("store: latest nodes: %w", err)
	}
	return i == len(nodes), nil
}

const reportColumns = `id, page_id, page_url, mode, root, html_hash, root_signature, created_at`

func scanReport(row interface{ Scan(...any) error }) (*report.Report, error) {
	var r report.Report
	err := row.Scan(&r.ID, &r.PageID, &r.PageURL, &r.Mode, &r.Root, &r.HTMLHash, &r.RootSignature, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReport returns the report with the given ID, nodes included.
func (s *Store) GetReport(ctx context.Context, id string) (*report.Report, error) {
	r, err := scanReport(s.DB.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM sig_reports WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadNodes(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// LatestReport returns the newest report of a page, nodes included.
func (s *Store) LatestReport(ctx context.Context, pageID string) (*report.Report, error) {
	r, err := scanReport(s.DB.QueryRowContext(ctx, `
		SELECT `+reportColumns+` FROM sig_reports
		WHERE page_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, pageID))
	if err != nil {
		return nil, err
	}
	if err := s.loadNodes(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) loadNodes(ctx context.Context, r *report.Report) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT xpath, tag, signature, text_len FROM sig_nodes
		WHERE report_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("store: nodes: %w", err)
	}
	defer rows.Close()

	r.Nodes = []report.NodeSignature{}
	for rows.Next() {
		var n report.NodeSignature
		if err := rows.Scan(&n.XPath, &n.Tag, &n.Signature, &n.TextLen); err != nil {
			return err
		}
		r.Nodes = append(r.Nodes, n)
	}
	return rows.Err()
}

// ListReports returns the newest reports of a page, newest first. Nodes are
// not loaded. limit <= 0 defaults to 20.
func (s *Store) ListReports(ctx context.Context, pageID string, limit int) ([]*report.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM sig_reports
		WHERE page_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes all but the keep newest reports of a page and returns the
// number of reports deleted.
func (s *Store) Prune(ctx context.Context, pageID string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var deleted int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		const stale = `
			SELECT id FROM sig_reports WHERE page_id = ?
			ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?`

		// Node rows are removed explicitly: foreign_keys is a per-connection
		// pragma and pooled connections may not have it set.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sig_nodes WHERE report_id IN (`+stale+`)`, pageID, keep); err != nil {
			return fmt.Errorf("store: prune nodes: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sig_reports WHERE id IN (`+stale+`)`, pageID, keep)
		if err != nil {
			return fmt.Errorf("store: prune reports: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// Occurrence locates a stored node signature.
type Occurrence struct {
	ReportID  string `json:"report_id"`
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url,omitempty"`
	XPath     string `json:"xpath"`
	Timestamp int64  `json:"timestamp"`
}

// FindSignature lists where a signature was seen, newest first. This is the
// deduplication lookup: identical subtrees share a signature.
func (s *Store) FindSignature(ctx context.Context, sig string, limit int) ([]Occurrence, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.page_url, n.xpath, r.created_at
		FROM sig_nodes n JOIN sig_reports r ON r.id = n.report_id
		WHERE n.signature = ?
		ORDER BY r.created_at DESC, n.seq LIMIT ?`, sig, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.ReportID, &o.PageID, &o.PageURL, &o.XPath, &o.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
