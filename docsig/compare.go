package docsig

import (
	"time"

	"github.com/hazyhaar/domsig/report"
)

// Compare lists the XPaths whose signatures differ between prev and cur.
//
// Nodes whose XPath and signature both match are unchanged. An unmatched
// signature that vanished from one XPath and appeared at another is a Move,
// the usual outcome of inserting a sibling before it. The remaining
// unmatched XPaths present in both reports are Changed, the others Added
// or Removed. An old XPath that lost its content and now holds a moved node
// is both a Move target and Changed. All lists follow document order.
func Compare(prev, cur *report.Report) (*report.Delta, error) {
	if prev.Mode != cur.Mode {
		return nil, ErrModeMismatch
	}

	d := &report.Delta{
		PageID:    cur.PageID,
		PageURL:   cur.PageURL,
		FromID:    prev.ID,
		ToID:      cur.ID,
		Mode:      cur.Mode,
		Timestamp: time.Now().UnixMilli(),
	}

	before := prev.Index()
	after := cur.Index()

	var curLeft, prevLeft []report.NodeSignature
	for _, n := range cur.Nodes {
		if old, ok := before[n.XPath]; ok && old.Signature == n.Signature {
			d.Unchanged++
			continue
		}
		curLeft = append(curLeft, n)
	}
	for _, n := range prev.Nodes {
		if now, ok := after[n.XPath]; ok && now.Signature == n.Signature {
			continue
		}
		prevLeft = append(prevLeft, n)
	}

	pending := make(map[string][]int)
	for i, n := range curLeft {
		pending[n.Signature] = append(pending[n.Signature], i)
	}
	movedTo := make(map[int]bool)
	changed := make(map[string]bool)
	for _, n := range prevLeft {
		if idxs := pending[n.Signature]; len(idxs) > 0 {
			pending[n.Signature] = idxs[1:]
			movedTo[idxs[0]] = true
			d.Moved = append(d.Moved, report.Move{
				Signature: n.Signature,
				From:      n.XPath,
				To:        curLeft[idxs[0]].XPath,
			})
			continue
		}
		if _, ok := after[n.XPath]; ok {
			// The XPath survives, possibly as the target of a move.
			changed[n.XPath] = true
		} else {
			d.Removed = append(d.Removed, n.XPath)
		}
	}
	for i, n := range curLeft {
		if movedTo[i] {
			continue
		}
		if _, ok := before[n.XPath]; ok {
			changed[n.XPath] = true
		} else {
			d.Added = append(d.Added, n.XPath)
		}
	}
	for _, n := range curLeft {
		if changed[n.XPath] {
			d.Changed = append(d.Changed, n.XPath)
		}
	}

	return d, nil
}
