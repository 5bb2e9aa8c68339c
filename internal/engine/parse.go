// internal/engine/parse.go
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	nthSuffix = regexp.MustCompile(`\s+nth=(\d+)$`)
	// kindPrefix only accepts the known kinds so that CSS such as
	// "input[name=otc]" is never mistaken for a prefixed descriptor.
	kindPrefix = regexp.MustCompile(`^(css|xpath|role|text|label|placeholder|attr)=`)
)

// ParseDescriptor parses the textual form used in scenario files:
//
//	kind=value [name=/re/flags] [nth=N] [exact]
//
// Strings without a known kind prefix are CSS selectors. Text values are
// literal (case-insensitive substring), "quoted" (exact) or /regexp/flags.
func ParseDescriptor(s string) (Descriptor, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Descriptor{}, fmt.Errorf("empty descriptor")
	}

	nth := -1
	exact := false
	for {
		if m := nthSuffix.FindStringSubmatchIndex(raw); m != nil {
			n, err := strconv.Atoi(raw[m[2]:m[3]])
			if err != nil {
				return Descriptor{}, fmt.Errorf("descriptor %q: invalid nth: %w", s, err)
			}
			nth = n
			raw = strings.TrimSpace(raw[:m[0]])
			continue
		}
		if strings.HasSuffix(raw, " exact") {
			exact = true
			raw = strings.TrimSpace(strings.TrimSuffix(raw, " exact"))
			continue
		}
		break
	}

	var d Descriptor
	loc := kindPrefix.FindStringSubmatchIndex(raw)
	if loc == nil {
		d = CSS(raw)
	} else {
		kind := Kind(raw[loc[2]:loc[3]])
		body := strings.TrimSpace(raw[loc[1]:])
		var err error
		d, err = parseBody(kind, body)
		if err != nil {
			return Descriptor{}, fmt.Errorf("descriptor %q: %w", s, err)
		}
	}

	if exact && d.Match.Pattern == nil && d.Match.Text != "" {
		d.Match.Exact = true
	}
	d.Nth = nth
	if err := d.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor %q: %w", s, err)
	}
	return d, nil
}

func parseBody(kind Kind, body string) (Descriptor, error) {
	switch kind {
	case KindCSS:
		return CSS(body), nil
	case KindXPath:
		return XPath(body), nil
	case KindRole:
		role, rest, _ := strings.Cut(body, " ")
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Role(role, TextMatch{}), nil
		}
		value, ok := strings.CutPrefix(rest, "name=")
		if !ok {
			return Descriptor{}, fmt.Errorf("unexpected role modifier %q", rest)
		}
		m, err := parseTextMatch(value)
		if err != nil {
			return Descriptor{}, err
		}
		return Role(role, m), nil
	case KindText, KindLabel, KindPlaceholder:
		m, err := parseTextMatch(body)
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: kind, Match: m, Nth: -1}, nil
	case KindAttr:
		name, value, found := strings.Cut(body, ":")
		if !found {
			return Attr(strings.TrimSpace(name), TextMatch{}), nil
		}
		m, err := parseTextMatch(value)
		if err != nil {
			return Descriptor{}, err
		}
		return Attr(strings.TrimSpace(name), m), nil
	}
	return Descriptor{}, fmt.Errorf("unknown descriptor kind %q", kind)
}

func parseTextMatch(v string) (TextMatch, error) {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '/' {
		if end := strings.LastIndexByte(v, '/'); end > 0 {
			expr, flags := v[1:end], v[end+1:]
			if strings.Trim(flags, "imsU") != "" {
				return TextMatch{}, fmt.Errorf("invalid regexp flags %q", flags)
			}
			if flags != "" {
				expr = "(?" + flags + ")" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return TextMatch{}, fmt.Errorf("invalid pattern: %w", err)
			}
			return Pattern(re), nil
		}
	}
	if len(v) >= 2 && v[0] == '"' {
		if s, err := strconv.Unquote(v); err == nil {
			return ExactText(s), nil
		}
	}
	return Literal(v), nil
}

// ParseCandidates parses every entry of raw, preserving order.
func ParseCandidates(raw []string) (CandidateList, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("candidate list is empty")
	}
	out := make(CandidateList, 0, len(raw))
	for i, s := range raw {
		d, err := ParseDescriptor(s)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}
