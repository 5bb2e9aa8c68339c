// internal/engine/descriptor.go
package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the matching strategy of a Descriptor.
type Kind string

const (
	KindCSS         Kind = "css"
	KindXPath       Kind = "xpath"
	KindRole        Kind = "role"
	KindText        Kind = "text"
	KindLabel       Kind = "label"
	KindPlaceholder Kind = "placeholder"
	KindAttr        Kind = "attr"
)

// TextMatch matches a piece of text either literally or by pattern.
// Literal matching is case-insensitive substring matching over
// whitespace-normalized text unless Exact is set.
type TextMatch struct {
	Text    string
	Pattern *regexp.Regexp
	Exact   bool
}

// Literal returns a case-insensitive substring match.
func Literal(s string) TextMatch { return TextMatch{Text: s} }

// ExactText returns a match requiring the whole normalized text to equal s.
func ExactText(s string) TextMatch { return TextMatch{Text: s, Exact: true} }

// Pattern returns a regular expression match.
func Pattern(re *regexp.Regexp) TextMatch { return TextMatch{Pattern: re} }

// MustPattern compiles expr and panics on error. Intended for static
// descriptor tables.
func MustPattern(expr string) TextMatch { return TextMatch{Pattern: regexp.MustCompile(expr)} }

// IsZero reports whether the match is unset, i.e. matches anything.
func (m TextMatch) IsZero() bool { return m.Pattern == nil && m.Text == "" }

// Matches applies the match to s.
func (m TextMatch) Matches(s string) bool {
	if m.IsZero() {
		return true
	}
	norm := normalizeSpace(s)
	if m.Pattern != nil {
		return m.Pattern.MatchString(norm)
	}
	if m.Exact {
		return norm == normalizeSpace(m.Text)
	}
	return strings.Contains(strings.ToLower(norm), strings.ToLower(normalizeSpace(m.Text)))
}

func (m TextMatch) String() string {
	switch {
	case m.Pattern != nil:
		return "/" + m.Pattern.String() + "/"
	case m.Exact:
		return fmt.Sprintf("%q", m.Text)
	default:
		return m.Text
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Descriptor is an immutable element matcher. It owns no live element and is
// re-evaluated against the document on every poll.
type Descriptor struct {
	Kind Kind
	// Selector is the CSS selector, XPath expression, ARIA role or attribute
	// name, depending on Kind. Unused for text, label and placeholder.
	Selector string
	// Match constrains the accessible name (role), the text content (text),
	// the label or placeholder text, or the attribute value (attr).
	Match TextMatch
	// Nth restricts matching to one index of the result set; negative means
	// any match.
	Nth int
}

// CSS matches elements by CSS selector.
func CSS(selector string) Descriptor { return Descriptor{Kind: KindCSS, Selector: selector, Nth: -1} }

// XPath matches elements by XPath expression.
func XPath(expr string) Descriptor { return Descriptor{Kind: KindXPath, Selector: expr, Nth: -1} }

// Role matches elements by ARIA role and accessible name.
func Role(role string, name TextMatch) Descriptor {
	return Descriptor{Kind: KindRole, Selector: role, Match: name, Nth: -1}
}

// Text matches the innermost elements whose text content matches m.
func Text(m TextMatch) Descriptor { return Descriptor{Kind: KindText, Match: m, Nth: -1} }

// Label matches form controls by their associated label text.
func Label(m TextMatch) Descriptor { return Descriptor{Kind: KindLabel, Match: m, Nth: -1} }

// Placeholder matches inputs by placeholder text.
func Placeholder(m TextMatch) Descriptor { return Descriptor{Kind: KindPlaceholder, Match: m, Nth: -1} }

// Attr matches elements carrying attribute name with a value matching m.
func Attr(name string, m TextMatch) Descriptor {
	return Descriptor{Kind: KindAttr, Selector: name, Match: m, Nth: -1}
}

// At returns a copy of d restricted to the n-th match.
func (d Descriptor) At(n int) Descriptor {
	d.Nth = n
	return d
}

// First is shorthand for At(0).
func (d Descriptor) First() Descriptor { return d.At(0) }

// Validate checks that d carries what its Kind needs.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindCSS, KindXPath, KindRole, KindAttr:
		if strings.TrimSpace(d.Selector) == "" {
			return fmt.Errorf("%s descriptor requires a selector", d.Kind)
		}
	case KindText, KindLabel, KindPlaceholder:
		if d.Match.IsZero() {
			return fmt.Errorf("%s descriptor requires a text or pattern", d.Kind)
		}
	default:
		return fmt.Errorf("unknown descriptor kind %q", d.Kind)
	}
	return nil
}

// String renders d in the same grammar ParseDescriptor accepts.
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	b.WriteByte('=')
	switch d.Kind {
	case KindRole:
		b.WriteString(d.Selector)
		if !d.Match.IsZero() {
			b.WriteString(" name=")
			b.WriteString(d.Match.String())
		}
	case KindAttr:
		b.WriteString(d.Selector)
		if !d.Match.IsZero() {
			b.WriteByte(':')
			b.WriteString(d.Match.String())
		}
	case KindText, KindLabel, KindPlaceholder:
		b.WriteString(d.Match.String())
	default:
		b.WriteString(d.Selector)
	}
	if d.Nth >= 0 {
		fmt.Fprintf(&b, " nth=%d", d.Nth)
	}
	return b.String()
}

// CandidateList is an ordered set of descriptors; earlier entries win.
type CandidateList []Descriptor

// Candidates builds a list from descriptors.
func Candidates(ds ...Descriptor) CandidateList { return CandidateList(ds) }

// Strings renders every descriptor.
func (l CandidateList) Strings() []string {
	out := make([]string, len(l))
	for i, d := range l {
		out[i] = d.String()
	}
	return out
}

func (l CandidateList) String() string {
	return "[" + strings.Join(l.Strings(), " | ") + "]"
}
