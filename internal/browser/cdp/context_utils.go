// internal/browser/cdp/context_utils.go
package cdp

import (
	"context"
	"time"
)

// CombineContext returns a context derived from session (so it carries the
// chromedp target) that is also canceled when op is done. Values come from
// session only.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach keeps ctx's values but drops its deadline and cancellation. Dialog
// answers use it so a step timeout cannot leave the page blocked.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
