// CLAUDE:SUMMARY Wire types for signed documents (Report, NodeSignature) and their comparison (Delta).
// Package report defines the wire types produced by document signing.
// They are JSON-encoded on every transport (stdout, webhook, HTTP, MCP) and
// persisted by the store.
package report

// Report is the set of signatures of one version of a document.
type Report struct {
	ID            string          `json:"id"` // UUIDv7
	PageID        string          `json:"page_id,omitempty"`
	PageURL       string          `json:"page_url,omitempty"`
	Mode          string          `json:"mode"`           // canonical mode letters
	Root          string          `json:"root,omitempty"` // id of the signing root, "" for the whole document
	HTMLHash      string          `json:"html_hash"`      // SHA-256 hex of the raw document
	RootSignature string          `json:"root_signature"`
	Nodes         []NodeSignature `json:"nodes"`
	Timestamp     int64           `json:"timestamp"` // epoch milliseconds
}

// NodeSignature is the signature of one element.
type NodeSignature struct {
	XPath     string `json:"xpath"`
	Tag       string `json:"tag"`
	Signature string `json:"signature"`
	TextLen   int    `json:"text_len"` // trimmed text length in bytes
}

// Index returns the node signatures keyed by XPath.
func (r *Report) Index() map[string]NodeSignature {
	idx := make(map[string]NodeSignature, len(r.Nodes))
	for _, n := range r.Nodes {
		idx[n.XPath] = n
	}
	return idx
}

// Delta describes how the signatures of a document moved between two
// reports.
type Delta struct {
	PageID    string   `json:"page_id,omitempty"`
	PageURL   string   `json:"page_url,omitempty"`
	FromID    string   `json:"from_id"`
	ToID      string   `json:"to_id"`
	Mode      string   `json:"mode"`
	Added     []string `json:"added,omitempty"`   // XPaths signed only in the newer report
	Removed   []string `json:"removed,omitempty"` // XPaths signed only in the older report
	Changed   []string `json:"changed,omitempty"` // XPaths whose signature differs
	Moved     []Move   `json:"moved,omitempty"`
	Unchanged int      `json:"unchanged"`
	Timestamp int64    `json:"timestamp"`
}

// Move is a subtree whose signature disappeared from one XPath and appeared
// at another.
type Move struct {
	Signature string `json:"signature"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Empty reports whether the two reports carried the same signatures.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.Moved) == 0
}
