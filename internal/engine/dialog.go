// internal/engine/dialog.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DialogPolicy is how an expected dialog is answered.
type DialogPolicy string

const (
	PolicyAccept         DialogPolicy = "accept"
	PolicyDismiss        DialogPolicy = "dismiss"
	PolicyAcceptWithText DialogPolicy = "accept_with_text"
)

// ParseDialogPolicy validates a policy name.
func ParseDialogPolicy(s string) (DialogPolicy, error) {
	switch p := DialogPolicy(s); p {
	case PolicyAccept, PolicyDismiss, PolicyAcceptWithText:
		return p, nil
	case "":
		return PolicyAccept, nil
	}
	return "", fmt.Errorf("unknown dialog policy %q", s)
}

// DialogExpectation is a one-shot answer for the next dialog. It is consumed
// by the first dialog that arrives after arming, or lapses at the next
// checkpoint.
type DialogExpectation struct {
	Step   string
	Policy DialogPolicy
	// Text is the prompt answer for PolicyAcceptWithText.
	Text string
}

// DialogRecord is one dialog the interceptor handled.
type DialogRecord struct {
	Step     string       `json:"step,omitempty"`
	Kind     DialogKind   `json:"kind"`
	Message  string       `json:"message"`
	Policy   DialogPolicy `json:"policy"`
	Expected bool         `json:"expected"`
	At       time.Time    `json:"at"`
	Error    string       `json:"error,omitempty"`
}

// DialogInterceptor answers modal prompts raised by the page. It subscribes
// to the port once; expectations are armed per step.
type DialogInterceptor struct {
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	armed   *DialogExpectation
	pending error
	history []DialogRecord
}

// NewDialogInterceptor subscribes to src and returns the interceptor.
func NewDialogInterceptor(src DialogSource, clock Clock, logger *zap.Logger) *DialogInterceptor {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	di := &DialogInterceptor{clock: clock, logger: logger.Named("dialog")}
	src.OnDialog(di.handle)
	return di
}

// Expect arms exp without performing any action. An expectation that is
// still armed is replaced.
func (di *DialogInterceptor) Expect(exp DialogExpectation) error {
	if _, err := ParseDialogPolicy(string(exp.Policy)); err != nil {
		return err
	}
	if exp.Policy == "" {
		exp.Policy = PolicyAccept
	}
	di.mu.Lock()
	prev := di.armed
	di.armed = &exp
	di.mu.Unlock()
	if prev != nil {
		di.logger.Warn("Replacing unconsumed dialog expectation.",
			zap.String("previous_step", prev.Step), zap.String("step", exp.Step))
	}
	return nil
}

// Trigger arms exp and runs action in the same call. The returned error is
// the action's error or, if the action succeeded, an unhandled dialog
// recorded meanwhile.
func (di *DialogInterceptor) Trigger(ctx context.Context, exp DialogExpectation, action func(ctx context.Context) error) error {
	if err := di.Expect(exp); err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		return err
	}
	return di.takePending()
}

// Checkpoint lapses an armed expectation that no dialog consumed and returns
// the pending unhandled dialog error, if any.
func (di *DialogInterceptor) Checkpoint() error {
	di.mu.Lock()
	if di.armed != nil {
		di.logger.Debug("Dialog expectation lapsed.", zap.String("step", di.armed.Step))
		di.armed = nil
	}
	di.mu.Unlock()
	return di.takePending()
}

// Armed reports whether an expectation is waiting for a dialog.
func (di *DialogInterceptor) Armed() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.armed != nil
}

// Handled returns a copy of the dialog history.
func (di *DialogInterceptor) Handled() []DialogRecord {
	di.mu.Lock()
	defer di.mu.Unlock()
	return append([]DialogRecord(nil), di.history...)
}

func (di *DialogInterceptor) takePending() error {
	di.mu.Lock()
	defer di.mu.Unlock()
	err := di.pending
	di.pending = nil
	return err
}

// handle runs on the adapter's event goroutine. The slot is taken under the
// lock; the answer is sent outside it since it may block on the browser.
func (di *DialogInterceptor) handle(d Dialog) {
	di.mu.Lock()
	exp := di.armed
	di.armed = nil
	di.mu.Unlock()

	rec := DialogRecord{Kind: d.Kind(), Message: d.Message(), At: di.clock.Now()}
	var err error
	if exp == nil {
		rec.Policy = PolicyDismiss
		err = d.Dismiss()
		di.logger.Warn("Dismissed unexpected dialog.",
			zap.String("kind", string(d.Kind())), zap.String("message", d.Message()))
	} else {
		rec.Step, rec.Policy, rec.Expected = exp.Step, exp.Policy, true
		switch exp.Policy {
		case PolicyDismiss:
			err = d.Dismiss()
		case PolicyAcceptWithText:
			err = d.Accept(exp.Text)
		default:
			err = d.Accept("")
		}
		di.logger.Debug("Answered dialog.",
			zap.String("step", exp.Step),
			zap.String("kind", string(d.Kind())),
			zap.String("policy", string(exp.Policy)))
	}
	if err != nil {
		rec.Error = err.Error()
		di.logger.Error("Failed to answer dialog.", zap.Error(err))
	}

	di.mu.Lock()
	di.history = append(di.history, rec)
	if exp == nil && di.pending == nil {
		di.pending = &UnhandledDialogError{Kind: d.Kind(), Message: d.Message()}
	}
	di.mu.Unlock()
}
