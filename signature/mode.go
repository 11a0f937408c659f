package signature

import "strings"

// Mode selects which facets of a node feed its signature.
// The zero Mode signs tag names and structure only.
type Mode struct {
	Class bool // include the class attribute value
	ID    bool // include the id attribute value
	Text  bool // include raw text node content
}

// ParseMode decodes a compact mode string. 'c' sets Class, 'i' sets ID and
// 't' sets Text. Any other character is ignored, order and repetition do not
// matter, and the empty string yields the zero Mode.
func ParseMode(s string) Mode {
	var m Mode
	for _, r := range s {
		switch r {
		case 'c':
			m.Class = true
		case 'i':
			m.ID = true
		case 't':
			m.Text = true
		}
	}
	return m
}

// String encodes the mode in canonical "cit" order.
func (m Mode) String() string {
	var b strings.Builder
	if m.Class {
		b.WriteByte('c')
	}
	if m.ID {
		b.WriteByte('i')
	}
	if m.Text {
		b.WriteByte('t')
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It never fails.
func (m *Mode) UnmarshalText(text []byte) error {
	*m = ParseMode(string(text))
	return nil
}
