// internal/browser/cdp/query.go
package cdp

import (
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/steady/internal/engine"
)

type jsMatch struct {
	Text    string `json:"text,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Flags   string `json:"flags,omitempty"`
	Exact   bool   `json:"exact,omitempty"`
}

type jsDescriptor struct {
	Kind     string  `json:"kind"`
	Selector string  `json:"selector,omitempty"`
	Match    jsMatch `json:"match"`
}

var leadingFlags = regexp.MustCompile(`^\(\?([imsU]+)\)`)

// jsPattern splits a leading Go flag group off expr so it can become a
// RegExp flags argument. Only i, m and s have JavaScript equivalents.
func jsPattern(expr string) (string, string) {
	m := leadingFlags.FindStringSubmatch(expr)
	if m == nil {
		return expr, ""
	}
	var flags strings.Builder
	for _, f := range m[1] {
		if strings.ContainsRune("ims", f) {
			flags.WriteRune(f)
		}
	}
	return expr[len(m[0]):], flags.String()
}

func toJSDescriptor(d engine.Descriptor) jsDescriptor {
	out := jsDescriptor{Kind: string(d.Kind), Selector: d.Selector}
	switch {
	case d.Match.Pattern != nil:
		out.Match.Pattern, out.Match.Flags = jsPattern(d.Match.Pattern.String())
	case d.Match.Text != "":
		out.Match.Text = d.Match.Text
		out.Match.Exact = d.Match.Exact
	}
	return out
}

type keyDef struct {
	key  string
	code string
	vk   int64
	text string
}

var namedKeys = map[string]keyDef{
	"enter":      {"Enter", "Enter", 13, "\r"},
	"tab":        {"Tab", "Tab", 9, ""},
	"escape":     {"Escape", "Escape", 27, ""},
	"backspace":  {"Backspace", "Backspace", 8, ""},
	"delete":     {"Delete", "Delete", 46, ""},
	"space":      {" ", "Space", 32, " "},
	"arrowup":    {"ArrowUp", "ArrowUp", 38, ""},
	"arrowdown":  {"ArrowDown", "ArrowDown", 40, ""},
	"arrowleft":  {"ArrowLeft", "ArrowLeft", 37, ""},
	"arrowright": {"ArrowRight", "ArrowRight", 39, ""},
	"home":       {"Home", "Home", 36, ""},
	"end":        {"End", "End", 35, ""},
	"pageup":     {"PageUp", "PageUp", 33, ""},
	"pagedown":   {"PageDown", "PageDown", 34, ""},
}

// keyEvents returns the key down/up pair for a named key, or types s
// character by character when it is not a known key name.
func keyEvents(s string) []chromedp.Action {
	if k, ok := namedKeys[strings.ToLower(s)]; ok {
		down := input.DispatchKeyEvent(input.KeyDown).
			WithKey(k.key).
			WithCode(k.code).
			WithWindowsVirtualKeyCode(k.vk).
			WithNativeVirtualKeyCode(k.vk)
		if k.text != "" {
			down = down.WithText(k.text).WithUnmodifiedText(k.text)
		}
		up := input.DispatchKeyEvent(input.KeyUp).
			WithKey(k.key).
			WithCode(k.code).
			WithWindowsVirtualKeyCode(k.vk).
			WithNativeVirtualKeyCode(k.vk)
		return []chromedp.Action{down, up}
	}
	return []chromedp.Action{chromedp.KeyEvent(s)}
}
