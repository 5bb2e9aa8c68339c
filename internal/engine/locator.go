// internal/engine/locator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Resolved is the winning element of a locator run. It is only valid for the
// step that produced it.
type Resolved struct {
	Handle     Handle
	Index      int
	Descriptor Descriptor
	Document   Document
}

func (r *Resolved) String() string {
	return fmt.Sprintf("#%d %s (%s)", r.Index, r.Descriptor, r.Handle)
}

// LocatorConfig holds the defaults applied to every Resolve call.
type LocatorConfig struct {
	Timeout  time.Duration
	Interval time.Duration
	// PriorityWindow is how long a lower-ranked match is held while
	// higher-ranked descriptors are still polled. Zero returns the first
	// round winner immediately; a negative value holds it until Timeout.
	PriorityWindow time.Duration
}

// LocateOption tunes a single Resolve call.
type LocateOption func(*locateSettings)

type locateSettings struct {
	within   Document
	timeout  time.Duration
	interval time.Duration
	presence bool
	window   time.Duration
}

// Within restricts the search to doc instead of the top-level document.
func Within(doc Document) LocateOption {
	return func(s *locateSettings) { s.within = doc }
}

// Timeout bounds the total search time.
func Timeout(d time.Duration) LocateOption {
	return func(s *locateSettings) { s.timeout = d }
}

// Interval sets the delay between polling rounds.
func Interval(d time.Duration) LocateOption {
	return func(s *locateSettings) { s.interval = d }
}

// PresenceOnly accepts attached elements without checking actionability.
func PresenceOnly() LocateOption {
	return func(s *locateSettings) { s.presence = true }
}

// PriorityWindow overrides LocatorConfig.PriorityWindow for one call.
func PriorityWindow(d time.Duration) LocateOption {
	return func(s *locateSettings) { s.window = d }
}

// Locator resolves an ordered candidate list to a single element.
type Locator struct {
	port   Port
	clock  Clock
	logger *zap.Logger
	cfg    LocatorConfig
}

// NewLocator creates a Locator over port.
func NewLocator(port Port, clock Clock, logger *zap.Logger, cfg LocatorConfig) *Locator {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	return &Locator{port: port, clock: clock, logger: logger.Named("locator"), cfg: cfg}
}

func (l *Locator) settings(opts []LocateOption) locateSettings {
	s := locateSettings{
		timeout:  l.cfg.Timeout,
		interval: l.cfg.Interval,
		window:   l.cfg.PriorityWindow,
	}
	for _, o := range opts {
		o(&s)
	}
	if s.interval <= 0 {
		s.interval = l.cfg.Interval
	}
	return s
}

// Resolve polls every descriptor of list, in order, until one is satisfied.
//
// The first descriptor returns as soon as it is satisfied. A satisfied
// lower-ranked descriptor is held for the priority window, measured from the
// round it was first seen, and replaced whenever a better-ranked one becomes
// satisfied. The held winner is returned when the window or the timeout ends.
// A held winner that disappears resets the window.
func (l *Locator) Resolve(ctx context.Context, list CandidateList, opts ...LocateOption) (*Resolved, error) {
	if len(list) == 0 {
		return nil, errors.New("locator: empty candidate list")
	}
	s := l.settings(opts)

	start := l.clock.Now()
	deadline := start.Add(s.timeout)
	var (
		held      *Resolved
		heldSince time.Time
		lastErr   error
	)
	for {
		winner, err := l.round(ctx, list, s)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			lastErr = err
		}

		now := l.clock.Now()
		switch {
		case winner == nil:
			if held != nil {
				l.logger.Debug("Held fallback disappeared.", zap.Stringer("candidate", held))
			}
			held = nil
		case winner.Index == 0:
			l.logger.Debug("Resolved preferred candidate.", zap.Stringer("candidate", winner))
			return winner, nil
		case held == nil:
			held, heldSince = winner, now
			l.logger.Debug("Holding fallback candidate.",
				zap.Stringer("candidate", winner), zap.Duration("window", s.window))
		default:
			held = winner
		}

		if held != nil && s.window >= 0 && now.Sub(heldSince) >= s.window {
			l.logger.Debug("Priority window elapsed.", zap.Stringer("candidate", held))
			return held, nil
		}
		if !now.Before(deadline) {
			if held != nil {
				return held, nil
			}
			return nil, &NoCandidateError{
				Descriptors: list.Strings(),
				Timeout:     s.timeout,
				Presence:    s.presence,
				Last:        lastErr,
			}
		}
		if err := sleepUntil(ctx, l.clock, s.interval, deadline); err != nil {
			return nil, err
		}
	}
}

// Probe runs a single round without waiting. It returns nil, nil when no
// descriptor is currently satisfied.
func (l *Locator) Probe(ctx context.Context, list CandidateList, opts ...LocateOption) (*Resolved, error) {
	if len(list) == 0 {
		return nil, errors.New("locator: empty candidate list")
	}
	winner, _ := l.round(ctx, list, l.settings(opts))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return winner, nil
}

// Act dispatches a on the resolved element.
func (l *Locator) Act(ctx context.Context, res *Resolved, a Action) error {
	if err := l.port.Dispatch(ctx, res.Handle, a); err != nil {
		return fmt.Errorf("%s on %s: %w", a, res.Descriptor, err)
	}
	return nil
}

// round evaluates descriptors in priority order and stops at the first one
// satisfied. Port errors make a descriptor unsatisfied for this round; the
// last one is returned alongside the winner.
func (l *Locator) round(ctx context.Context, list CandidateList, s locateSettings) (*Resolved, error) {
	var lastErr error
	for i, d := range list {
		handles, err := l.port.FindAll(ctx, d, s.within)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", d, err)
			continue
		}
		if d.Nth >= 0 {
			if d.Nth >= len(handles) {
				continue
			}
			handles = handles[d.Nth : d.Nth+1]
		}
		for _, h := range handles {
			if !s.presence {
				ok, err := l.port.IsActionable(ctx, h)
				if err != nil {
					if !errors.Is(err, ErrDetached) {
						lastErr = fmt.Errorf("%s: %w", d, err)
					}
					continue
				}
				if !ok {
					continue
				}
			}
			return &Resolved{Handle: h, Index: i, Descriptor: d, Document: h.Document()}, lastErr
		}
	}
	return nil, lastErr
}
