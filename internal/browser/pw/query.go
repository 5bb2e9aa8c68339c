// internal/browser/pw/query.go
package pw

import (
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/steady/internal/engine"
)

// query is the Playwright locator call a descriptor maps to.
type query struct {
	builder  string // locator, role, text, label or placeholder
	selector string
	// arg is a string or *regexp.Regexp; nil when the descriptor has no
	// text predicate.
	arg   interface{}
	exact bool
	// attr is set for attribute descriptors, which Playwright cannot
	// express with a regular expression; matches are filtered client side.
	attr string
}

func textArg(m engine.TextMatch) (interface{}, bool) {
	switch {
	case m.Pattern != nil:
		return m.Pattern, false
	case m.Text != "":
		return m.Text, m.Exact
	}
	return nil, false
}

func toQuery(d engine.Descriptor) (query, error) {
	arg, exact := textArg(d.Match)
	switch d.Kind {
	case engine.KindCSS:
		return query{builder: "locator", selector: "css=" + d.Selector}, nil
	case engine.KindXPath:
		return query{builder: "locator", selector: "xpath=" + d.Selector}, nil
	case engine.KindRole:
		return query{builder: "role", selector: d.Selector, arg: arg, exact: exact}, nil
	case engine.KindText, engine.KindLabel, engine.KindPlaceholder:
		if arg == nil {
			return query{}, fmt.Errorf("%s descriptor needs a text predicate", d.Kind)
		}
		return query{builder: string(d.Kind), arg: arg, exact: exact}, nil
	case engine.KindAttr:
		name := strings.TrimSpace(d.Selector)
		if name == "" {
			return query{}, fmt.Errorf("attr descriptor needs an attribute name")
		}
		return query{builder: "locator", selector: "css=[" + name + "]", attr: name}, nil
	}
	return query{}, fmt.Errorf("unsupported descriptor kind %q", d.Kind)
}

// locate builds the Playwright locator for q inside frame.
func (q query) locate(frame playwright.Frame) playwright.Locator {
	switch q.builder {
	case "role":
		opts := playwright.FrameGetByRoleOptions{}
		if q.arg != nil {
			opts.Name = q.arg
			opts.Exact = playwright.Bool(q.exact)
		}
		return frame.GetByRole(playwright.AriaRole(q.selector), opts)
	case "text":
		return frame.GetByText(q.arg, playwright.FrameGetByTextOptions{Exact: playwright.Bool(q.exact)})
	case "label":
		return frame.GetByLabel(q.arg, playwright.FrameGetByLabelOptions{Exact: playwright.Bool(q.exact)})
	case "placeholder":
		return frame.GetByPlaceholder(q.arg, playwright.FrameGetByPlaceholderOptions{Exact: playwright.Bool(q.exact)})
	}
	return frame.Locator(q.selector)
}
