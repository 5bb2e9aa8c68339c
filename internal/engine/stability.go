// internal/engine/stability.go
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Tolerance is the maximum per-axis delta, in CSS pixels, between two
// consecutive samples for them to count as unchanged.
type Tolerance struct {
	X, Y, Width, Height float64
}

// UniformTolerance applies px to every axis.
func UniformTolerance(px float64) Tolerance {
	return Tolerance{X: px, Y: px, Width: px, Height: px}
}

func (t Tolerance) within(prev, cur Geometry) bool {
	return math.Abs(cur.X-prev.X) <= t.X &&
		math.Abs(cur.Y-prev.Y) <= t.Y &&
		math.Abs(cur.Width-prev.Width) <= t.Width &&
		math.Abs(cur.Height-prev.Height) <= t.Height
}

// StabilityOptions configures one Await call. A zero Tolerance means "use
// the poller default"; set Exact to require identical samples instead.
type StabilityOptions struct {
	Interval  time.Duration
	RunLength int
	Tolerance Tolerance
	Exact     bool
	Timeout   time.Duration
}

// StabilityResult reports how polling ended. Samples excludes the baseline.
type StabilityResult struct {
	Stable  bool
	Sample  Geometry
	Samples int
	Elapsed time.Duration
	target  string
}

// Err returns a *StabilityTimeoutError when the element never settled.
func (r StabilityResult) Err() error {
	if r.Stable {
		return nil
	}
	return &StabilityTimeoutError{Target: r.target, Samples: r.Samples, Elapsed: r.Elapsed, Last: r.Sample}
}

// StabilityPoller waits for an element's geometry to stop changing.
type StabilityPoller struct {
	port     Port
	clock    Clock
	logger   *zap.Logger
	defaults StabilityOptions
}

// NewStabilityPoller creates a poller. Zero fields in the options passed to
// Await fall back to defaults.
func NewStabilityPoller(port Port, clock Clock, logger *zap.Logger, defaults StabilityOptions) *StabilityPoller {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StabilityPoller{port: port, clock: clock, logger: logger.Named("stability"), defaults: defaults}
}

func (p *StabilityPoller) merge(o StabilityOptions) StabilityOptions {
	if o.Interval <= 0 {
		o.Interval = p.defaults.Interval
	}
	if o.Interval <= 0 {
		o.Interval = 300 * time.Millisecond
	}
	if o.RunLength <= 0 {
		o.RunLength = p.defaults.RunLength
	}
	if o.RunLength <= 0 {
		o.RunLength = 1
	}
	switch {
	case o.Exact:
		o.Tolerance = Tolerance{}
	case o.Tolerance == (Tolerance{}):
		o.Tolerance = p.defaults.Tolerance
	}
	if o.Timeout <= 0 {
		o.Timeout = p.defaults.Timeout
	}
	return o
}

// Await samples h until RunLength consecutive samples stay within tolerance
// of their predecessor or the timeout passes. Hitting the timeout is not an
// error; see StabilityResult.Err.
func (p *StabilityPoller) Await(ctx context.Context, h Handle, opts StabilityOptions) (StabilityResult, error) {
	o := p.merge(opts)
	start := p.clock.Now()
	deadline := start.Add(o.Timeout)

	prev, err := p.port.ReadGeometry(ctx, h)
	if err != nil {
		return StabilityResult{}, fmt.Errorf("reading baseline geometry of %s: %w", h, err)
	}
	res := StabilityResult{Sample: prev, target: h.String()}
	run := 0
	for {
		if !p.clock.Now().Before(deadline) {
			res.Elapsed = p.clock.Now().Sub(start)
			p.logger.Debug("Element did not stabilize.",
				zap.Stringer("handle", h),
				zap.Int("samples", res.Samples),
				zap.Stringer("last", res.Sample))
			return res, nil
		}
		if err := sleepUntil(ctx, p.clock, o.Interval, deadline); err != nil {
			return res, err
		}

		cur, err := p.port.ReadGeometry(ctx, h)
		if err != nil {
			return res, fmt.Errorf("reading geometry of %s: %w", h, err)
		}
		res.Samples++
		res.Sample = cur
		if o.Tolerance.within(prev, cur) {
			run++
		} else {
			run = 0
		}
		prev = cur

		if run >= o.RunLength {
			res.Stable = true
			res.Elapsed = p.clock.Now().Sub(start)
			p.logger.Debug("Element stable.",
				zap.Stringer("handle", h),
				zap.Int("samples", res.Samples),
				zap.Stringer("geometry", cur))
			return res, nil
		}
	}
}
