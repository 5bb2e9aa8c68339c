// internal/engine/fake_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeDoc struct {
	id, url, name string
	top           bool
	appear        time.Duration
}

func (d *fakeDoc) ID() string   { return d.id }
func (d *fakeDoc) URL() string  { return d.url }
func (d *fakeDoc) Name() string { return d.name }
func (d *fakeDoc) IsTop() bool  { return d.top }

// fakeElement is visible to FindAll for descriptor key while the fake clock
// is inside [appear, vanish).
type fakeElement struct {
	id       string
	key      string
	doc      string
	appear   time.Duration
	vanish   time.Duration
	disabled bool
	// detached makes every actionability check report ErrDetached.
	detached bool
	geoms    []Geometry
	geomErr  error
}

type fakeHandle struct {
	el  *fakeElement
	doc Document
}

func (h *fakeHandle) Document() Document { return h.doc }
func (h *fakeHandle) String() string     { return h.el.id }

// fakePort is a scripted in-memory Port whose page state is a function of
// the fake clock.
type fakePort struct {
	mu       sync.Mutex
	clock    *fakeClock
	start    time.Time
	docs     []*fakeDoc
	elements []*fakeElement
	findErr  map[string]error
	listErr  error
	reads    map[string]int
	actions  []string
	handlers []func(Dialog)
}

func newFakePort(clock *fakeClock, docs ...*fakeDoc) *fakePort {
	if len(docs) == 0 {
		docs = []*fakeDoc{{id: "top", url: "https://example.test/", top: true}}
	}
	return &fakePort{
		clock:   clock,
		start:   clock.Now(),
		docs:    docs,
		findErr: map[string]error{},
		reads:   map[string]int{},
	}
}

func (p *fakePort) add(els ...*fakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range els {
		if el.doc == "" {
			el.doc = "top"
		}
		p.elements = append(p.elements, el)
	}
}

func (p *fakePort) elapsed() time.Duration { return p.clock.Now().Sub(p.start) }

func (p *fakePort) alive(el *fakeElement) bool {
	e := p.elapsed()
	return e >= el.appear && (el.vanish == 0 || e < el.vanish)
}

func (p *fakePort) doc(id string) *fakeDoc {
	for _, d := range p.docs {
		if d.id == id {
			return d
		}
	}
	return nil
}

func (p *fakePort) ListDocuments(context.Context) ([]Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []Document
	for _, d := range p.docs {
		if p.elapsed() >= d.appear {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *fakePort) FindAll(ctx context.Context, d Descriptor, doc Document) ([]Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := d.At(-1).String()
	if err := p.findErr[key]; err != nil {
		return nil, err
	}
	docID := "top"
	if doc != nil {
		docID = doc.ID()
	}
	var out []Handle
	for _, el := range p.elements {
		if el.key == key && el.doc == docID && p.alive(el) {
			out = append(out, &fakeHandle{el: el, doc: p.doc(docID)})
		}
	}
	return out, nil
}

func (p *fakePort) IsActionable(_ context.Context, h Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := h.(*fakeHandle).el
	if el.detached || !p.alive(el) {
		return false, ErrDetached
	}
	return !el.disabled, nil
}

func (p *fakePort) ReadGeometry(_ context.Context, h Handle) (Geometry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := h.(*fakeHandle).el
	if el.geomErr != nil {
		return Geometry{}, el.geomErr
	}
	if len(el.geoms) == 0 {
		return Geometry{}, errors.New("no geometry scripted")
	}
	i := p.reads[el.id]
	p.reads[el.id]++
	if i >= len(el.geoms) {
		i = len(el.geoms) - 1
	}
	return el.geoms[i], nil
}

func (p *fakePort) Dispatch(_ context.Context, h Handle, a Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, h.String()+":"+a.String())
	return nil
}

func (p *fakePort) OnDialog(handler func(Dialog)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// raise delivers d to every subscriber, as an adapter event loop would.
func (p *fakePort) raise(d Dialog) {
	p.mu.Lock()
	hs := append([]func(Dialog){}, p.handlers...)
	p.mu.Unlock()
	for _, h := range hs {
		h(d)
	}
}

type fakeDialog struct {
	mu       sync.Mutex
	kind     DialogKind
	message  string
	accepted bool
	answered bool
	text     string
}

func (d *fakeDialog) Kind() DialogKind     { return d.kind }
func (d *fakeDialog) Message() string      { return d.message }
func (d *fakeDialog) DefaultValue() string { return "" }

func (d *fakeDialog) Accept(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answered, d.accepted, d.text = true, true, text
	return nil
}

func (d *fakeDialog) Dismiss() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answered = true
	return nil
}

func (d *fakeDialog) state() (answered, accepted bool, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answered, d.accepted, d.text
}

var testEpoch = time.Unix(1_700_000_020, 0)
