package store

// Schema creates the report tables. Node rows are ordered by seq, which is
// the document order of the signed elements.
const Schema = `
CREATE TABLE IF NOT EXISTS sig_reports (
	id             TEXT PRIMARY KEY,
	page_id        TEXT NOT NULL,
	page_url       TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	root           TEXT NOT NULL DEFAULT '',
	html_hash      TEXT NOT NULL DEFAULT '',
	root_signature TEXT NOT NULL,
	node_count     INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sig_reports_page ON sig_reports(page_id, created_at);

CREATE TABLE IF NOT EXISTS sig_nodes (
	report_id TEXT NOT NULL REFERENCES sig_reports(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	xpath     TEXT NOT NULL,
	tag       TEXT NOT NULL,
	signature TEXT NOT NULL,
	text_len  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (report_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sig_nodes_signature ON sig_nodes(signature);
`

// Migrations are the numbered schema steps applied by Open. Append new steps;
// never edit a released one.
var Migrations = []string{Schema}
