// CLAUDE:SUMMARY Read-only signature.Node handles over golang.org/x/net/html trees, plus parse and lookup helpers.
// Package htmlnode adapts parsed golang.org/x/net/html trees to the
// signature.Node interface. Handles borrow the tree and never modify it.
package htmlnode

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domsig/signature"
)

// Parse parses an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmlnode: parse: %w", err)
	}
	return doc, nil
}

// ParseBytes parses an HTML document held in memory.
func ParseBytes(data []byte) (*html.Node, error) {
	return Parse(bytes.NewReader(data))
}

// Wrap returns a handle on n. Wrap(nil) returns nil.
func Wrap(n *html.Node) signature.Node {
	if n == nil {
		return nil
	}
	return node{n}
}

// Unwrap returns the underlying *html.Node of a handle produced by Wrap.
func Unwrap(n signature.Node) (*html.Node, bool) {
	h, ok := n.(node)
	if !ok {
		return nil, false
	}
	return h.n, true
}

type node struct{ n *html.Node }

func (h node) TrimmedText() string {
	return strings.TrimSpace(TextContent(h.n))
}

func (h node) Element() signature.Element {
	if h.n.Type != html.ElementNode {
		return nil
	}
	return element{h.n}
}

func (h node) Text() (string, bool) {
	if h.n.Type != html.TextNode {
		return "", false
	}
	return h.n.Data, true
}

func (h node) FirstChild() signature.Node { return Wrap(h.n.FirstChild) }

func (h node) NextSibling() signature.Node { return Wrap(h.n.NextSibling) }

type element struct{ n *html.Node }

func (e element) LocalName() string { return e.n.Data }

func (e element) Attr(key string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// TextContent concatenates the data of every text node in the inclusive
// subtree of n, script and style content included. Comments are skipped.
func TextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// Find returns the first node, in document order, for which match is true.
func Find(root *html.Node, match func(*html.Node) bool) *html.Node {
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// FindByID returns the first element whose id attribute equals id.
func FindByID(root *html.Node, id string) *html.Node {
	return Find(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := element{n}.Attr("id")
		return ok && v == id
	})
}

// FindTag returns the first element with the given tag name.
func FindTag(root *html.Node, tag string) *html.Node {
	return Find(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	})
}
