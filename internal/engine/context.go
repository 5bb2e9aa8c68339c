// internal/engine/context.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DocumentPredicate decides whether a document is the one a step needs.
type DocumentPredicate interface {
	Match(ctx context.Context, port Port, doc Document) (bool, error)
	String() string
}

type urlContains []string

// URLContains matches documents whose URL contains any of substrs.
func URLContains(substrs ...string) DocumentPredicate { return urlContains(substrs) }

func (p urlContains) Match(_ context.Context, _ Port, doc Document) (bool, error) {
	u := doc.URL()
	for _, s := range p {
		if s != "" && strings.Contains(u, s) {
			return true, nil
		}
	}
	return false, nil
}

func (p urlContains) String() string { return "url~" + strings.Join(p, "|") }

type urlMatches struct{ re *regexp.Regexp }

// URLMatches matches documents whose URL matches re.
func URLMatches(re *regexp.Regexp) DocumentPredicate { return urlMatches{re: re} }

func (p urlMatches) Match(_ context.Context, _ Port, doc Document) (bool, error) {
	return p.re.MatchString(doc.URL()), nil
}

func (p urlMatches) String() string { return "url=/" + p.re.String() + "/" }

type nameIs string

// NameIs matches nested documents by frame name.
func NameIs(name string) DocumentPredicate { return nameIs(name) }

func (p nameIs) Match(_ context.Context, _ Port, doc Document) (bool, error) {
	return doc.Name() == string(p), nil
}

func (p nameIs) String() string { return "name=" + string(p) }

type hasElement struct{ d Descriptor }

// HasElement matches documents containing at least one element for d.
func HasElement(d Descriptor) DocumentPredicate { return hasElement{d: d} }

func (p hasElement) Match(ctx context.Context, port Port, doc Document) (bool, error) {
	hs, err := port.FindAll(ctx, p.d, doc)
	if err != nil {
		return false, err
	}
	return len(hs) > 0, nil
}

func (p hasElement) String() string { return "has(" + p.d.String() + ")" }

type anyOf []DocumentPredicate

// AnyOf matches when any of preds matches.
func AnyOf(preds ...DocumentPredicate) DocumentPredicate { return anyOf(preds) }

func (p anyOf) Match(ctx context.Context, port Port, doc Document) (bool, error) {
	var firstErr error
	for _, pred := range p {
		ok, err := pred.Match(ctx, port, doc)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

func (p anyOf) String() string {
	parts := make([]string, len(p))
	for i, pred := range p {
		parts[i] = pred.String()
	}
	return "any(" + strings.Join(parts, ", ") + ")"
}

// ResolveOption tunes a single Resolve call.
type ResolveOption func(*resolveSettings)

type resolveSettings struct {
	wait     time.Duration
	interval time.Duration
}

// WaitUpTo bounds how long Resolve keeps polling.
func WaitUpTo(d time.Duration) ResolveOption {
	return func(s *resolveSettings) { s.wait = d }
}

// ResolveEvery sets the polling interval.
func ResolveEvery(d time.Duration) ResolveOption {
	return func(s *resolveSettings) { s.interval = d }
}

// ContextResolver finds the document a set of later queries should target.
// It never mutates page state.
type ContextResolver struct {
	port     Port
	clock    Clock
	logger   *zap.Logger
	wait     time.Duration
	interval time.Duration
}

// NewContextResolver creates a resolver with default wait and interval.
func NewContextResolver(port Port, clock Clock, logger *zap.Logger, wait, interval time.Duration) *ContextResolver {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextResolver{
		port:     port,
		clock:    clock,
		logger:   logger.Named("context"),
		wait:     wait,
		interval: interval,
	}
}

// Resolve polls the document list until a document satisfies pred. Each
// round checks the top-level document first, then nested ones in the order
// the port reports them.
func (r *ContextResolver) Resolve(ctx context.Context, pred DocumentPredicate, opts ...ResolveOption) (Document, error) {
	s := resolveSettings{wait: r.wait, interval: r.interval}
	for _, o := range opts {
		o(&s)
	}
	if s.interval <= 0 {
		s.interval = 100 * time.Millisecond
	}

	start := r.clock.Now()
	deadline := start.Add(s.wait)
	var scanned []string
	for {
		docs, err := r.port.ListDocuments(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug("Listing documents failed, retrying.", zap.Error(err))
		}

		scanned = scanned[:0]
		for _, doc := range orderTopFirst(docs) {
			scanned = append(scanned, doc.URL())
			ok, err := pred.Match(ctx, r.port, doc)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				r.logger.Debug("Predicate evaluation failed.", zap.String("doc", doc.ID()), zap.Error(err))
				continue
			}
			if ok {
				r.logger.Debug("Context resolved.",
					zap.Stringer("predicate", pred),
					zap.String("url", doc.URL()),
					zap.Bool("top", doc.IsTop()))
				return doc, nil
			}
		}

		if !r.clock.Now().Before(deadline) {
			return nil, &ContextNotFoundError{
				Predicate: pred.String(),
				Waited:    r.clock.Now().Sub(start),
				Scanned:   append([]string(nil), scanned...),
			}
		}
		if err := sleepUntil(ctx, r.clock, s.interval, deadline); err != nil {
			return nil, err
		}
	}
}

// ResolveOrTop behaves like Resolve but falls back to the top-level document
// when nothing matches. Only a failure to enumerate documents at all, or a
// cancelled ctx, is returned as an error.
func (r *ContextResolver) ResolveOrTop(ctx context.Context, pred DocumentPredicate, opts ...ResolveOption) (Document, error) {
	doc, err := r.Resolve(ctx, pred, opts...)
	if err == nil {
		return doc, nil
	}
	var notFound *ContextNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}
	docs, lerr := r.port.ListDocuments(ctx)
	if lerr != nil {
		return nil, fmt.Errorf("falling back to top-level document: %w", lerr)
	}
	for _, d := range docs {
		if d.IsTop() {
			r.logger.Info("No nested document matched, using top-level document.", zap.Stringer("predicate", pred))
			return d, nil
		}
	}
	return nil, err
}

// orderTopFirst moves the top-level document to the front, keeping the
// relative order of the rest.
func orderTopFirst(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.IsTop() {
			out = append(out, d)
		}
	}
	for _, d := range docs {
		if !d.IsTop() {
			out = append(out, d)
		}
	}
	return out
}
