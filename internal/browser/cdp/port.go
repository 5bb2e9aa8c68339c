// internal/browser/cdp/port.go
package cdp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/engine"
)

//go:embed js/query.js
var queryScript string

const worldName = "__steady_world"

type world struct {
	id     runtime.ExecutionContextID
	loader cdptypes.LoaderID
}

// frameDoc is a snapshot of one frame taken from the frame tree.
type frameDoc struct {
	id     cdptypes.FrameID
	loader cdptypes.LoaderID
	url    string
	name   string
	top    bool
}

func (d *frameDoc) ID() string   { return string(d.id) }
func (d *frameDoc) URL() string  { return d.url }
func (d *frameDoc) Name() string { return d.name }
func (d *frameDoc) IsTop() bool  { return d.top }

// elementHandle addresses an element by its registry id inside the world it
// was found in. A recreated world invalidates every handle taken from the
// old one.
type elementHandle struct {
	doc   *frameDoc
	world runtime.ExecutionContextID
	id    int64
}

func (h *elementHandle) Document() engine.Document { return h.doc }

func (h *elementHandle) String() string {
	return fmt.Sprintf("frame:%s/el:%d", shortID(string(h.doc.id)), h.id)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ListDocuments walks the frame tree depth first, so the top-level document
// comes first and children follow in attachment order.
func (s *Session) ListDocuments(ctx context.Context) ([]engine.Document, error) {
	var tree *page.FrameTree
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading frame tree: %w", err)
	}
	var docs []engine.Document
	var walk func(t *page.FrameTree, top bool)
	walk = func(t *page.FrameTree, top bool) {
		if t == nil || t.Frame == nil {
			return
		}
		docs = append(docs, &frameDoc{
			id:     t.Frame.ID,
			loader: t.Frame.LoaderID,
			url:    t.Frame.URL + t.Frame.URLFragment,
			name:   t.Frame.Name,
			top:    top,
		})
		for _, child := range t.ChildFrames {
			walk(child, false)
		}
	}
	walk(tree, true)
	return docs, nil
}

func (s *Session) topDocument(ctx context.Context) (*frameDoc, error) {
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("page has no frames")
	}
	return docs[0].(*frameDoc), nil
}

func (s *Session) forgetWorld(id cdptypes.FrameID) {
	s.mu.Lock()
	delete(s.worlds, id)
	s.mu.Unlock()
}

// worldFor returns the isolated world of doc, creating it and installing
// the matcher when the frame has none or has navigated since.
func (s *Session) worldFor(ctx context.Context, doc *frameDoc) (runtime.ExecutionContextID, error) {
	s.mu.Lock()
	w, ok := s.worlds[doc.id]
	s.mu.Unlock()
	if ok && (doc.loader == "" || w.loader == doc.loader) {
		return w.id, nil
	}

	var id runtime.ExecutionContextID
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = page.CreateIsolatedWorld(doc.id).
			WithWorldName(worldName).
			WithGrantUniveralAccess(true).
			Do(c)
		if err != nil {
			return err
		}
		_, exc, err := runtime.Evaluate(queryScript).WithContextID(id).WithReturnByValue(true).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("installing matcher: %s", exceptionText(exc))
		}
		return nil
	}))
	if err != nil {
		listed := false
		if contextGone(err) && !doc.top {
			listed = s.frameListed(ctx, doc.id)
		}
		return 0, worldError(doc, err, listed)
	}

	s.mu.Lock()
	s.worlds[doc.id] = world{id: id, loader: doc.loader}
	s.mu.Unlock()
	s.logger.Debug("Isolated world ready.", zap.String("frame", string(doc.id)), zap.String("url", doc.url))
	return id, nil
}

// ErrOutOfProcessFrame is returned for iframes the page session cannot
// reach, typically cross-origin frames under site isolation.
var ErrOutOfProcessFrame = errors.New("frame runs out of process; the cdp driver cannot query it, use the playwright driver")

// worldError classifies a failed world creation. A child frame that the
// page session cannot find yet still lists in the frame tree lives in
// another renderer process.
func worldError(doc *frameDoc, err error, listed bool) error {
	switch {
	case !contextGone(err):
		return fmt.Errorf("creating isolated world for frame %s: %w", doc.id, err)
	case !doc.top && listed:
		return fmt.Errorf("frame %s (%s): %w", doc.id, doc.url, ErrOutOfProcessFrame)
	default:
		return engine.ErrDetached
	}
}

func (s *Session) frameListed(ctx context.Context, id cdptypes.FrameID) bool {
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return false
	}
	for _, d := range docs {
		if d.(*frameDoc).id == id {
			return true
		}
	}
	return false
}

// eval runs expr in world and decodes the by-value result into out.
func (s *Session) eval(ctx context.Context, world runtime.ExecutionContextID, expr string, out interface{}) error {
	var obj *runtime.RemoteObject
	var exc *runtime.ExceptionDetails
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		obj, exc, err = runtime.Evaluate(expr).
			WithContextID(world).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(c)
		return err
	}))
	if err != nil {
		if contextGone(err) {
			return engine.ErrDetached
		}
		return err
	}
	if exc != nil {
		return fmt.Errorf("script error: %s", exceptionText(exc))
	}
	if out == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(obj.Value), out)
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

func (s *Session) resolveDoc(ctx context.Context, doc engine.Document) (*frameDoc, error) {
	if doc == nil {
		return s.topDocument(ctx)
	}
	fd, ok := doc.(*frameDoc)
	if !ok {
		return nil, fmt.Errorf("document %s does not belong to this session", doc.ID())
	}
	return fd, nil
}

// FindAll evaluates d in doc's isolated world. A world lost to navigation
// is recreated once.
func (s *Session) FindAll(ctx context.Context, d engine.Descriptor, doc engine.Document) ([]engine.Handle, error) {
	fd, err := s.resolveDoc(ctx, doc)
	if err != nil {
		return nil, err
	}
	arg, err := json.Marshal(toJSDescriptor(d))
	if err != nil {
		return nil, err
	}
	expr := "globalThis.__steady.find(" + string(arg) + ")"

	var ids []int64
	for attempt := 0; ; attempt++ {
		worldID, err := s.worldFor(ctx, fd)
		if err == nil {
			err = s.eval(ctx, worldID, expr, &ids)
		}
		if err == nil {
			handles := make([]engine.Handle, len(ids))
			for i, id := range ids {
				handles[i] = &elementHandle{doc: fd, world: worldID, id: id}
			}
			return handles, nil
		}
		if attempt > 0 || !contextGone(err) {
			return nil, fmt.Errorf("finding %s: %w", d, err)
		}
		s.forgetWorld(fd.id)
	}
}

func asElement(h engine.Handle) (*elementHandle, error) {
	eh, ok := h.(*elementHandle)
	if !ok {
		return nil, fmt.Errorf("handle %s does not belong to this session", h)
	}
	return eh, nil
}

func (s *Session) call(ctx context.Context, eh *elementHandle, method string, args []interface{}, out interface{}) error {
	expr := "globalThis.__steady." + method + "(" + strconv.FormatInt(eh.id, 10)
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		expr += "," + string(b)
	}
	return s.eval(ctx, eh.world, expr+")", out)
}

// IsActionable reports whether the element is connected, visible and
// enabled.
func (s *Session) IsActionable(ctx context.Context, h engine.Handle) (bool, error) {
	eh, err := asElement(h)
	if err != nil {
		return false, err
	}
	var state string
	if err := s.call(ctx, eh, "state", nil, &state); err != nil {
		return false, err
	}
	switch state {
	case "detached":
		return false, engine.ErrDetached
	case "actionable":
		return true, nil
	}
	return false, nil
}

// ReadGeometry returns the element's client rect relative to its own
// document's viewport.
func (s *Session) ReadGeometry(ctx context.Context, h engine.Handle) (engine.Geometry, error) {
	eh, err := asElement(h)
	if err != nil {
		return engine.Geometry{}, err
	}
	var g *engine.Geometry
	if err := s.call(ctx, eh, "geometry", nil, &g); err != nil {
		return engine.Geometry{}, err
	}
	if g == nil {
		return engine.Geometry{}, engine.ErrDetached
	}
	return *g, nil
}

// Dispatch performs a. Clicks and hovers in the top-level document use
// real input events unless Force is set; everything else is dispatched
// from the isolated world.
func (s *Session) Dispatch(ctx context.Context, h engine.Handle, a engine.Action) error {
	eh, err := asElement(h)
	if err != nil {
		return err
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	s.logger.Debug("Dispatching action.", zap.Stringer("handle", eh), zap.String("action", string(a.Kind)))

	switch a.Kind {
	case engine.ActionClick, engine.ActionHover:
		if eh.doc.top && !a.Force {
			return s.pointer(ctx, eh, a.Kind)
		}
		return s.act(ctx, eh, string(a.Kind), "")
	case engine.ActionFill, engine.ActionSelect:
		return s.act(ctx, eh, string(a.Kind), a.Value)
	case engine.ActionCheck, engine.ActionUncheck:
		return s.act(ctx, eh, string(a.Kind), "")
	case engine.ActionScroll:
		return s.act(ctx, eh, "scroll", "")
	case engine.ActionPress:
		if err := s.act(ctx, eh, "focus", ""); err != nil {
			return err
		}
		return s.runActions(ctx, keyEvents(a.Value)...)
	case engine.ActionUpload:
		return s.upload(ctx, eh, a.Files)
	}
	return fmt.Errorf("unsupported action %q", a.Kind)
}

func (s *Session) act(ctx context.Context, eh *elementHandle, kind, value string) error {
	var res string
	if err := s.call(ctx, eh, "act", []interface{}{kind, value}, &res); err != nil {
		return err
	}
	switch res {
	case "detached":
		return engine.ErrDetached
	case "unchanged":
		return fmt.Errorf("%s had no effect on %s", kind, eh)
	}
	return nil
}

// pointer scrolls the element into view and sends mouse events at its
// center.
func (s *Session) pointer(ctx context.Context, eh *elementHandle, kind engine.ActionKind) error {
	if err := s.act(ctx, eh, "scroll", ""); err != nil {
		return err
	}
	g, err := s.ReadGeometry(ctx, eh)
	if err != nil {
		return err
	}
	x, y := g.Center()
	if kind == engine.ActionHover {
		return s.runActions(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
	}
	return s.runActions(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		chromedp.MouseClickXY(x, y))
}

// upload resolves the element to a remote object and sets its files.
func (s *Session) upload(ctx context.Context, eh *elementHandle, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("upload to %s: no files", eh)
	}
	expr := "globalThis.__steady.element(" + strconv.FormatInt(eh.id, 10) + ")"
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, exc, err := runtime.Evaluate(expr).WithContextID(eh.world).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script error: %s", exceptionText(exc))
		}
		if obj == nil || obj.ObjectID == "" {
			return engine.ErrDetached
		}
		return dom.SetFileInputFiles(files).WithObjectID(obj.ObjectID).Do(c)
	}))
	if contextGone(err) {
		return engine.ErrDetached
	}
	return err
}
