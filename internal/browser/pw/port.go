// internal/browser/pw/port.go
package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/engine"
)

// frameDoc wraps a Playwright frame. Playwright keeps frame objects stable
// across in-frame navigation, so the snapshot reads URL and name lazily.
type frameDoc struct {
	frame playwright.Frame
	id    string
	top   bool
}

func (d *frameDoc) ID() string  { return d.id }
func (d *frameDoc) URL() string { return d.frame.URL() }
func (d *frameDoc) IsTop() bool { return d.top }

func (d *frameDoc) Name() string {
	if d.top {
		return ""
	}
	return d.frame.Name()
}

// locatorHandle is the index-th match of a locator. It re-resolves on every
// call, which is what makes detachment observable.
type locatorHandle struct {
	doc   *frameDoc
	loc   playwright.Locator
	label string
	index int
}

func (h *locatorHandle) Document() engine.Document { return h.doc }
func (h *locatorHandle) String() string {
	return fmt.Sprintf("%s/%s#%d", h.doc.id, h.label, h.index)
}

// ListDocuments returns the main frame followed by every attached child in
// Playwright's frame order.
func (s *Session) ListDocuments(ctx context.Context) ([]engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	main := s.page.MainFrame()
	docs := []engine.Document{&frameDoc{frame: main, id: "main", top: true}}
	n := 0
	for _, f := range s.page.Frames() {
		if f == main || f.IsDetached() {
			continue
		}
		n++
		docs = append(docs, &frameDoc{frame: f, id: fmt.Sprintf("frame-%d", n)})
	}
	return docs, nil
}

func (s *Session) resolveDoc(doc engine.Document) (*frameDoc, error) {
	if doc == nil {
		return &frameDoc{frame: s.page.MainFrame(), id: "main", top: true}, nil
	}
	fd, ok := doc.(*frameDoc)
	if !ok {
		return nil, fmt.Errorf("document %s does not belong to this session", doc.ID())
	}
	if fd.frame.IsDetached() {
		return nil, engine.ErrDetached
	}
	return fd, nil
}

func (s *Session) FindAll(ctx context.Context, d engine.Descriptor, doc engine.Document) ([]engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := s.resolveDoc(doc)
	if err != nil {
		return nil, err
	}
	q, err := toQuery(d)
	if err != nil {
		return nil, err
	}
	loc := q.locate(fd.frame)
	count, err := loc.Count()
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", d, mapError(err))
	}
	label := d.At(-1).String()
	handles := make([]engine.Handle, 0, count)
	for i := 0; i < count; i++ {
		nth := loc.Nth(i)
		if q.attr != "" {
			value, err := nth.GetAttribute(q.attr, playwright.LocatorGetAttributeOptions{Timeout: millis(probeTimeout)})
			if err != nil || !d.Match.Matches(value) {
				continue
			}
		}
		handles = append(handles, &locatorHandle{doc: fd, loc: nth, label: label, index: i})
	}
	return handles, nil
}

func asLocator(h engine.Handle) (*locatorHandle, error) {
	lh, ok := h.(*locatorHandle)
	if !ok {
		return nil, fmt.Errorf("handle %s does not belong to this session", h)
	}
	return lh, nil
}

// present fails with engine.ErrDetached once the handle's frame is gone or
// the match no longer exists.
func present(h *locatorHandle) error {
	if h.doc.frame.IsDetached() {
		return engine.ErrDetached
	}
	n, err := h.loc.Count()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return engine.ErrDetached
	}
	return nil
}

func (s *Session) IsActionable(ctx context.Context, h engine.Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lh, err := asLocator(h)
	if err != nil {
		return false, err
	}
	if err := present(lh); err != nil {
		return false, err
	}
	visible, err := lh.loc.IsVisible()
	if err != nil || !visible {
		return false, mapError(err)
	}
	enabled, err := lh.loc.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: millis(probeTimeout)})
	if err != nil {
		return false, mapError(err)
	}
	return enabled, nil
}

// ReadGeometry returns the bounding box relative to the main frame viewport.
func (s *Session) ReadGeometry(ctx context.Context, h engine.Handle) (engine.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return engine.Geometry{}, err
	}
	lh, err := asLocator(h)
	if err != nil {
		return engine.Geometry{}, err
	}
	box, err := lh.loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: millis(probeTimeout)})
	if err != nil {
		return engine.Geometry{}, mapError(err)
	}
	if box == nil {
		return engine.Geometry{}, engine.ErrDetached
	}
	return engine.Geometry{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (s *Session) Dispatch(ctx context.Context, h engine.Handle, a engine.Action) error {
	lh, err := asLocator(h)
	if err != nil {
		return err
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	s.logger.Debug("Dispatching action.", zap.Stringer("handle", lh), zap.String("action", string(a.Kind)))

	timeout := millis(s.opts.ActionTimeout)
	force := playwright.Bool(a.Force)
	loc := lh.loc
	switch a.Kind {
	case engine.ActionClick:
		err = loc.Click(playwright.LocatorClickOptions{Force: force, Timeout: timeout})
	case engine.ActionFill:
		err = loc.Fill(a.Value, playwright.LocatorFillOptions{Force: force, Timeout: timeout})
	case engine.ActionCheck:
		err = loc.Check(playwright.LocatorCheckOptions{Force: force, Timeout: timeout})
	case engine.ActionUncheck:
		err = loc.Uncheck(playwright.LocatorUncheckOptions{Force: force, Timeout: timeout})
	case engine.ActionSelect:
		values := []string{a.Value}
		_, err = loc.SelectOption(playwright.SelectOptionValues{Values: &values},
			playwright.LocatorSelectOptionOptions{Force: force, Timeout: timeout})
	case engine.ActionPress:
		err = loc.Press(a.Value, playwright.LocatorPressOptions{Timeout: timeout})
	case engine.ActionUpload:
		if len(a.Files) == 0 {
			return fmt.Errorf("upload to %s: no files", lh)
		}
		err = loc.SetInputFiles(a.Files, playwright.LocatorSetInputFilesOptions{Timeout: timeout})
	case engine.ActionHover:
		err = loc.Hover(playwright.LocatorHoverOptions{Force: force, Timeout: timeout})
	case engine.ActionScroll:
		err = loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: timeout})
	default:
		return fmt.Errorf("unsupported action %q", a.Kind)
	}
	return mapError(err)
}

// mapError turns Playwright's detachment and closed-target failures into
// engine.ErrDetached.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%v: %w", err, engine.ErrDetached)
	}
	msg := err.Error()
	for _, s := range []string{"detached", "Execution context was destroyed", "not attached to the DOM"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%v: %w", err, engine.ErrDetached)
		}
	}
	return err
}
