// CLAUDE:SUMMARY Signs every element of a parsed HTML document in one pass and compares signature reports by XPath.
// Package docsig signs whole documents. Every element with a non-empty
// signature is listed under its XPath, so two versions of a page can be
// compared node by node without diffing the trees themselves.
package docsig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domsig/htmlnode"
	"github.com/hazyhaar/domsig/idgen"
	"github.com/hazyhaar/domsig/report"
	"github.com/hazyhaar/domsig/signature"
)

// ErrRootNotFound is returned when Options.Root names no element.
var ErrRootNotFound = errors.New("docsig: root element not found")

// ErrModeMismatch is returned when comparing reports signed under different
// modes. Their signatures are never equal, so a delta would be meaningless.
var ErrModeMismatch = errors.New("docsig: reports use different modes")

// Options controls document signing.
type Options struct {
	Mode signature.Mode
	// Root is the id attribute of the element to sign. Empty signs the
	// whole document.
	Root    string
	PageID  string
	PageURL string
}

// SignHTML parses raw and signs it.
func SignHTML(raw []byte, opts Options) (*report.Report, error) {
	doc, err := htmlnode.ParseBytes(raw)
	if err != nil {
		return nil, err
	}
	r, err := Sign(doc, opts)
	if err != nil {
		return nil, err
	}
	r.HTMLHash = report.HashHTML(raw)
	return r, nil
}

// Sign computes the signature of every element under the signing root.
// Nodes are listed in document order. Text nodes feed their parent's
// signature but are not listed.
func Sign(doc *html.Node, opts Options) (*report.Report, error) {
	root := doc
	if opts.Root != "" {
		root = htmlnode.FindByID(doc, opts.Root)
		if root == nil {
			return nil, fmt.Errorf("%w: #%s", ErrRootNotFound, opts.Root)
		}
	}

	sigs := make(map[*html.Node]string)
	rootSig := signature.Visit(htmlnode.Wrap(root), opts.Mode, func(n signature.Node, sig string) {
		if hn, ok := htmlnode.Unwrap(n); ok && hn.Type == html.ElementNode {
			sigs[hn] = sig
		}
	})

	r := &report.Report{
		ID:            idgen.New(),
		PageID:        opts.PageID,
		PageURL:       opts.PageURL,
		Mode:          opts.Mode.String(),
		Root:          opts.Root,
		RootSignature: rootSig,
		Nodes:         make([]report.NodeSignature, 0, len(sigs)),
		Timestamp:     time.Now().UnixMilli(),
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sig, ok := sigs[n]; ok {
			r.Nodes = append(r.Nodes, report.NodeSignature{
				XPath:     XPath(n),
				Tag:       n.Data,
				Signature: sig,
				TextLen:   len(strings.TrimSpace(htmlnode.TextContent(n))),
			})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return r, nil
}

// XPath returns the absolute element path of n, such as /html/body/div[2]/p.
// A positional index is only added when several sibling elements share the
// tag. Non-element nodes are located by their parent element.
func XPath(n *html.Node) string {
	var steps []string
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		steps = append(steps, step(n))
	}
	if len(steps) == 0 {
		return "/"
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "/" + strings.Join(steps, "/")
}

func step(n *html.Node) string {
	if n.Parent == nil {
		return n.Data
	}
	idx, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", n.Data, idx)
	}
	return n.Data
}
