// internal/engine/port.go

// Package engine implements the resilient UI interaction core: candidate
// locator resolution, element stability polling, nested document
// resolution, one-shot dialog interception and time-based passcode retries.
//
// The engine never talks to a browser directly. Everything it needs is
// expressed by the Port interface below, which concrete adapters
// (internal/browser/cdp, internal/browser/pw) implement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrDetached is returned by adapters when a handle no longer resolves to an
// element in its document (navigation, re-render, removal).
var ErrDetached = errors.New("element is detached from its document")

// Document is either the top-level document of a page or one of its nested
// sub-documents (iframes). Implementations are snapshots; they are enumerated
// fresh on every resolution and must not be cached across navigation.
type Document interface {
	// ID is an adapter specific identifier (frame ID, frame index).
	ID() string
	URL() string
	// Name is the frame's name attribute, empty for the top-level document.
	Name() string
	IsTop() bool
}

// Handle refers to one concrete element inside a Document. Handles are only
// valid for the step that produced them.
type Handle interface {
	Document() Document
	String() string
}

// Geometry is an element bounding box in CSS pixels.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (g Geometry) Center() (float64, float64) {
	return g.X + g.Width/2, g.Y + g.Height/2
}

func (g Geometry) String() string {
	return fmt.Sprintf("{x=%.1f y=%.1f w=%.1f h=%.1f}", g.X, g.Y, g.Width, g.Height)
}

// ActionKind enumerates the input events an adapter can dispatch.
type ActionKind string

const (
	ActionClick   ActionKind = "click"
	ActionFill    ActionKind = "fill"
	ActionCheck   ActionKind = "check"
	ActionUncheck ActionKind = "uncheck"
	ActionSelect  ActionKind = "select"
	ActionPress   ActionKind = "press"
	ActionUpload  ActionKind = "upload"
	ActionHover   ActionKind = "hover"
	ActionScroll  ActionKind = "scroll"
)

// Action is a single input event with its payload.
type Action struct {
	Kind ActionKind
	// Value is the text for fill, the option value for select and the key
	// name for press.
	Value string
	// Files holds absolute paths for upload.
	Files []string
	// Force skips the adapter's own actionability checks.
	Force bool
}

func (a Action) String() string {
	switch a.Kind {
	case ActionFill, ActionSelect, ActionPress:
		return fmt.Sprintf("%s(%q)", a.Kind, a.Value)
	case ActionUpload:
		return fmt.Sprintf("%s(%d files)", a.Kind, len(a.Files))
	}
	return string(a.Kind)
}

// DialogKind is the type of a modal prompt raised by a document.
type DialogKind string

const (
	DialogAlert        DialogKind = "alert"
	DialogConfirm      DialogKind = "confirm"
	DialogPrompt       DialogKind = "prompt"
	DialogBeforeUnload DialogKind = "beforeunload"
)

// Dialog is a pending modal prompt. The document stays blocked until exactly
// one of Accept or Dismiss is called.
type Dialog interface {
	Kind() DialogKind
	Message() string
	DefaultValue() string
	// Accept answers the dialog; promptText is only meaningful for prompts.
	Accept(promptText string) error
	Dismiss() error
}

// DialogSource delivers dialog events. The handler may be invoked from an
// adapter goroutine.
type DialogSource interface {
	OnDialog(handler func(Dialog))
}

// Port is the document query capability the engine is written against.
type Port interface {
	DialogSource

	// ListDocuments returns the top-level document followed by every
	// currently attached nested document in attachment order.
	ListDocuments(ctx context.Context) ([]Document, error)
	// FindAll returns every element in doc matching d, in document order.
	// A nil doc means the top-level document. d.Nth is applied by the caller,
	// adapters return the full match set.
	FindAll(ctx context.Context, d Descriptor, doc Document) ([]Handle, error)
	// IsActionable reports whether h is attached, visible and enabled.
	IsActionable(ctx context.Context, h Handle) (bool, error)
	ReadGeometry(ctx context.Context, h Handle) (Geometry, error)
	Dispatch(ctx context.Context, h Handle, a Action) error
}

// Navigator covers the page-level primitives scenario code uses around the
// engine. It is not consumed by the engine itself.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	WaitForURL(ctx context.Context, pattern *regexp.Regexp) error
	Screenshot(ctx context.Context) ([]byte, error)
}
