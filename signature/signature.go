// CLAUDE:SUMMARY Content signature of a DOM subtree: tag, selected attributes, text and child signatures hashed with SHA-256.
// Package signature computes deterministic fingerprints of DOM subtrees.
//
// A signature is either empty (the node carries no signal) or has the form
//
//	v<Version>:<mode>:<64 hex chars>
//
// where <mode> is the canonical encoding of the Mode used. Two subtrees with
// equal signatures under the same mode have the same meaningful content.
// Consumers detect changes between document versions by comparing strings.
//
// The engine never mutates or retains the tree. Calls are synchronous and
// safe to run concurrently on trees nobody is writing to. Recursion depth
// equals tree depth.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	// Version is embedded in every signature. It changes whenever the
	// algorithm produces different output for the same input.
	Version = 0

	// LengthThreshold is the minimum trimmed text length, in bytes, a node
	// needs to be signed at all.
	LengthThreshold = 6
)

// Element is the element view of a node.
type Element interface {
	LocalName() string
	Attr(key string) (string, bool)
}

// Node is a read-only handle into a tree owned by the caller.
type Node interface {
	// TrimmedText is the concatenated text of all descendant text nodes,
	// the node itself included, with surrounding whitespace removed.
	TrimmedText() string
	// Element returns nil when the node is not an element.
	Element() Element
	// Text returns the raw content of a text node.
	Text() (string, bool)
	FirstChild() Node
	NextSibling() Node
}

// prefix returns "v<Version>:<mode>:".
func prefix(mode Mode) string {
	return "v" + strconv.Itoa(Version) + ":" + mode.String() + ":"
}

// selfSignature is the unhashed node-local contribution.
func selfSignature(n Node, mode Mode) string {
	if n.TrimmedText() == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(prefix(mode))

	if el := n.Element(); el != nil {
		b.WriteString(el.LocalName())
		if mode.ID {
			if id, ok := el.Attr("id"); ok {
				b.WriteString(id)
			}
		}
		if mode.Class {
			if class, ok := el.Attr("class"); ok {
				b.WriteString(class)
			}
		}
	}

	if mode.Text {
		if text, ok := n.Text(); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// Compute returns the signature of n under mode, or "" when n is suppressed.
//
// A node whose trimmed text is shorter than LengthThreshold is suppressed
// together with its whole subtree. Otherwise the self signature is followed
// by the signatures of the children in document order and the result is
// hashed.
func Compute(n Node, mode Mode) string {
	return visit(n, mode, nil)
}

// Visit computes the signature of n like Compute and calls fn, in post-order,
// for every node of the subtree whose signature is non-empty. The value
// passed to fn for a node equals Compute(node, mode).
func Visit(n Node, mode Mode, fn func(Node, string)) string {
	return visit(n, mode, fn)
}

func visit(n Node, mode Mode, fn func(Node, string)) string {
	if len(n.TrimmedText()) < LengthThreshold {
		return ""
	}

	var acc strings.Builder
	acc.WriteString(selfSignature(n, mode))
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		acc.WriteString(visit(c, mode, fn))
	}
	if acc.Len() == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(acc.String()))
	sig := prefix(mode) + hex.EncodeToString(sum[:])
	if fn != nil {
		fn(n, sig)
	}
	return sig
}

// Valid reports whether sig is a well-formed non-empty signature of the
// current Version.
func Valid(sig string) bool {
	rest, ok := strings.CutPrefix(sig, "v"+strconv.Itoa(Version)+":")
	if !ok {
		return false
	}
	mode, digest, ok := strings.Cut(rest, ":")
	if !ok {
		return false
	}
	if ParseMode(mode).String() != mode {
		return false
	}
	if len(digest) != 2*sha256.Size {
		return false
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// ModeOf extracts the mode letters of a signature. ok is false when sig is
// not well-formed.
func ModeOf(sig string) (Mode, bool) {
	if !Valid(sig) {
		return Mode{}, false
	}
	parts := strings.SplitN(sig, ":", 3)
	return ParseMode(parts[1]), true
}
