// internal/scenario/runner.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/engine"
)

// Driver is a browser session the runner can drive: the engine's query
// port plus page navigation.
type Driver interface {
	engine.Port
	engine.Navigator
}

// stepHandler executes one step kind and fills in its report entry.
type stepHandler func(ctx context.Context, st Step, sr *StepReport) error

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces the real clock, for tests.
func WithClock(c engine.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithGenerator replaces the TOTP generator built from configuration.
func WithGenerator(g engine.CodeGenerator) Option { return func(r *Runner) { r.gen = g } }

// WithLookupEnv replaces os.LookupEnv for ${VAR} expansion.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Runner) { r.lookupEnv = fn }
}

// Runner executes scenarios one step at a time against a single driver.
type Runner struct {
	driver    Driver
	cfg       config.Interface
	logger    *zap.Logger
	clock     engine.Clock
	gen       engine.CodeGenerator
	lookupEnv func(string) (string, bool)

	locator  *engine.Locator
	poller   *engine.StabilityPoller
	contexts *engine.ContextResolver
	dialogs  *engine.DialogInterceptor
	passcode *engine.PasscodeController

	handlers map[StepKind]stepHandler

	// Per run.
	scenario      *Scenario
	report        *Report
	pendingDialog *engine.DialogExpectation
}

// NewRunner wires the engine components over driver. The dialog
// subscription is installed here, once for the runner's lifetime.
func NewRunner(driver Driver, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		driver:    driver,
		cfg:       cfg,
		logger:    logger.Named("runner"),
		clock:     engine.RealClock{},
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gen == nil {
		pc := cfg.Passcode()
		gen, err := engine.NewTOTPGenerator(pc.Digits, pc.Period, pc.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("configuring passcode generator: %w", err)
		}
		r.gen = gen
	}

	ec := cfg.Engine()
	r.locator = engine.NewLocator(driver, r.clock, logger, ec.LocatorSettings())
	r.poller = engine.NewStabilityPoller(driver, r.clock, logger, ec.StabilitySettings())
	r.contexts = engine.NewContextResolver(driver, r.clock, logger, ec.Context.Wait, ec.Context.Interval)
	r.dialogs = engine.NewDialogInterceptor(driver, r.clock, logger)
	r.passcode = engine.NewPasscodeController(r.gen, r.clock, logger, cfg.Passcode().ControllerSettings())

	r.handlers = map[StepKind]stepHandler{
		StepNavigate:    r.navigate,
		StepExpectURL:   r.expectURL,
		StepWaitVisible: r.waitVisible,
		StepWaitHidden:  r.waitHidden,
		StepDialog:      r.armDialog,
		StepPasscode:    r.authenticate,
		StepScreenshot:  r.screenshot,
		StepPause:       r.pause,
	}
	for kind := range actionKinds {
		r.handlers[kind] = r.act
	}
	return r, nil
}

// Run executes sc and returns its report. It stops at the first failing
// step; the returned error names that step.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	r.scenario = sc
	r.report = NewReport(sc.Name, r.cfg.Browser().Driver, r.clock.Now())
	r.report.TotalSteps = len(sc.Steps)
	r.pendingDialog = nil
	// Drop anything left over from a previous run.
	_ = r.dialogs.Checkpoint()

	log := r.logger.With(zap.String("scenario", sc.Name), zap.String("run_id", r.report.RunID.String()))
	log.Info("Starting scenario.", zap.Int("steps", len(sc.Steps)))

	var runErr error
	for i, st := range sc.Steps {
		sr, err := r.runStep(ctx, i, st)
		r.report.Steps = append(r.report.Steps, sr)
		if err != nil {
			runErr = fmt.Errorf("step %s (line %d): %w", st.Label(i), st.Line, err)
			r.failureScreenshot(ctx, i)
			break
		}
	}

	r.report.Finished = r.clock.Now()
	if runErr != nil {
		r.report.Status = StatusFailed
		r.report.Error = runErr.Error()
		log.Error("Scenario failed.", zap.Error(runErr))
		return r.report, runErr
	}
	log.Info("Scenario passed.", zap.Duration("elapsed", r.report.Finished.Sub(r.report.Started)))
	return r.report, nil
}

func (r *Runner) runStep(ctx context.Context, i int, st Step) (StepReport, error) {
	sr := StepReport{Index: i, Kind: st.Kind, Line: st.Line, Status: StatusPassed, Started: r.clock.Now()}
	handler, ok := r.handlers[st.Kind]
	if !ok {
		err := fmt.Errorf("no handler registered for step kind %s", st.Kind)
		sr.Status, sr.Error = StatusFailed, err.Error()
		return sr, err
	}

	seen := len(r.dialogs.Handled())
	r.logger.Info("Running step.", zap.String("step", st.Label(i)), zap.Strings("target", st.Target))
	err := handler(ctx, st, &sr)
	if st.Kind != StepDialog {
		// An expectation outlives only the dialog step that armed it.
		if r.takeDialog() != nil {
			r.logger.Info("Dialog expectation lapsed unused.", zap.String("step", st.Label(i)))
		}
		if err == nil {
			err = r.dialogs.Checkpoint()
		}
	}
	if handled := r.dialogs.Handled(); len(handled) > seen {
		sr.Dialogs = handled[seen:]
	}

	sr.Duration = r.clock.Now().Sub(sr.Started)
	if err != nil {
		sr.Status, sr.Error = StatusFailed, err.Error()
	}
	return sr, err
}

// expand substitutes ${VAR} references. Undefined variables are an error.
func (r *Runner) expand(s string) (string, error) {
	var missing []string
	out := os.Expand(s, func(name string) string {
		v, ok := r.lookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("undefined variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (r *Runner) timeoutFor(st Step, fallback time.Duration) time.Duration {
	if st.Timeout > 0 {
		return st.Timeout
	}
	return fallback
}

// resolveURL resolves raw against the scenario's base URL.
func (r *Runner) resolveURL(raw string) (string, error) {
	if r.scenario.BaseURL == "" {
		return raw, nil
	}
	base, err := url.Parse(r.scenario.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (r *Runner) navigate(ctx context.Context, st Step, sr *StepReport) error {
	raw, err := r.expand(st.Value)
	if err != nil {
		return err
	}
	target, err := r.resolveURL(raw)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeoutFor(st, r.cfg.Runner().NavigationTimeout))
	defer cancel()
	return r.withDialog(ctx, st.Label(sr.Index), func(ctx context.Context) error {
		return r.driver.Navigate(ctx, target)
	})
}

func (r *Runner) expectURL(ctx context.Context, st Step, _ *StepReport) error {
	expr, err := r.expand(st.Value)
	if err != nil {
		return err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("expect_url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeoutFor(st, r.cfg.Runner().NavigationTimeout))
	defer cancel()
	if err := r.driver.WaitForURL(ctx, re); err != nil {
		current, _ := r.driver.URL(context.WithoutCancel(ctx))
		return fmt.Errorf("url never matched /%s/ (at %s): %w", re, current, err)
	}
	return nil
}

// document resolves the step's nested document; nil means the top level.
func (r *Runner) document(ctx context.Context, spec *ContextSpec) (engine.Document, error) {
	if spec == nil {
		return nil, nil
	}
	pred, err := spec.Predicate()
	if err != nil {
		return nil, err
	}
	var opts []engine.ResolveOption
	if spec.Wait > 0 {
		opts = append(opts, engine.WaitUpTo(spec.Wait))
	}
	if spec.FallbackTop {
		return r.contexts.ResolveOrTop(ctx, pred, opts...)
	}
	return r.contexts.Resolve(ctx, pred, opts...)
}

func (r *Runner) locateOpts(st Step, doc engine.Document) []engine.LocateOption {
	opts := []engine.LocateOption{engine.Within(doc)}
	if st.Timeout > 0 {
		opts = append(opts, engine.Timeout(st.Timeout))
	}
	return opts
}

func record(sr *StepReport, res *engine.Resolved) {
	idx := res.Index
	sr.Descriptor = res.Descriptor.String()
	sr.CandidateIndex = &idx
	if res.Document != nil {
		sr.Document = res.Document.URL()
	}
}

// locate resolves the target. A missing optional target marks the step
// skipped and returns nil, nil.
func (r *Runner) locate(ctx context.Context, st Step, sr *StepReport) (*engine.Resolved, error) {
	doc, err := r.document(ctx, st.Context)
	if err != nil {
		return nil, err
	}
	list, err := st.Candidates()
	if err != nil {
		return nil, err
	}
	res, err := r.locator.Resolve(ctx, list, r.locateOpts(st, doc)...)
	if err != nil {
		if st.Optional && errors.Is(err, engine.ErrNoCandidate) {
			r.logger.Info("Optional target absent, skipping step.", zap.Strings("target", st.Target))
			sr.Status = StatusSkipped
			return nil, nil
		}
		return nil, err
	}
	record(sr, res)
	return res, nil
}

// takeDialog hands the armed expectation to the step about to act.
func (r *Runner) takeDialog() *engine.DialogExpectation {
	exp := r.pendingDialog
	r.pendingDialog = nil
	return exp
}

// withDialog runs fn with the armed expectation, if any, in place.
func (r *Runner) withDialog(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	exp := r.takeDialog()
	if exp == nil {
		return fn(ctx)
	}
	exp.Step = step
	return r.dialogs.Trigger(ctx, *exp, fn)
}

func (r *Runner) act(ctx context.Context, st Step, sr *StepReport) error {
	res, err := r.locate(ctx, st, sr)
	if err != nil {
		return err
	}
	if res == nil {
		if r.takeDialog() != nil {
			r.logger.Debug("Dialog expectation lapsed with skipped step.")
		}
		return nil
	}

	action := engine.Action{Kind: actionKinds[st.Kind], Force: st.Force}
	if action.Value, err = r.expand(st.Value); err != nil {
		return err
	}
	if st.Kind == StepUpload {
		if action.Files, err = r.uploadFiles(st.Files); err != nil {
			return err
		}
	}

	if st.Stable != nil {
		result, err := r.poller.Await(ctx, res.Handle, st.Stable.Options())
		if err != nil {
			return err
		}
		stable := result.Stable
		sr.Stable, sr.StabilitySamples = &stable, result.Samples
		if !stable {
			if !st.ForceOnUnstable {
				return result.Err()
			}
			r.logger.Warn("Target never settled, forcing the action.",
				zap.String("descriptor", sr.Descriptor), zap.Int("samples", result.Samples))
			action.Force = true
			sr.Status = StatusForced
		}
	}

	return r.withDialog(ctx, st.Label(sr.Index), func(ctx context.Context) error {
		return r.locator.Act(ctx, res, action)
	})
}

// uploadFiles expands and anchors upload paths to the scenario directory.
// Every file must exist before anything is dispatched.
func (r *Runner) uploadFiles(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p, err := r.expand(p)
		if err != nil {
			return nil, err
		}
		if p, err = homedir.Expand(p); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.scenario.Dir(), p)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("upload file %s is a directory", p)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Runner) waitVisible(ctx context.Context, st Step, sr *StepReport) error {
	_, err := r.locate(ctx, st, sr)
	return err
}

// waitHidden polls until no candidate is actionable.
func (r *Runner) waitHidden(ctx context.Context, st Step, sr *StepReport) error {
	doc, err := r.document(ctx, st.Context)
	if err != nil {
		return err
	}
	list, err := st.Candidates()
	if err != nil {
		return err
	}
	ec := r.cfg.Engine()
	timeout := r.timeoutFor(st, ec.Locator.Timeout)
	deadline := r.clock.Now().Add(timeout)
	for {
		res, err := r.locator.Probe(ctx, list, engine.Within(doc))
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		if !r.clock.Now().Before(deadline) {
			record(sr, res)
			return fmt.Errorf("%s still visible after %s", res.Descriptor, timeout)
		}
		if err := r.clock.Sleep(ctx, ec.Locator.Interval); err != nil {
			return err
		}
	}
}

func (r *Runner) armDialog(_ context.Context, st Step, _ *StepReport) error {
	policy, err := engine.ParseDialogPolicy(st.Dialog.Policy)
	if err != nil {
		return err
	}
	text, err := r.expand(st.Dialog.Text)
	if err != nil {
		return err
	}
	if r.pendingDialog != nil {
		r.logger.Warn("Replacing dialog expectation no step consumed.")
	}
	r.pendingDialog = &engine.DialogExpectation{Policy: policy, Text: text}
	return nil
}

func (r *Runner) authenticate(ctx context.Context, st Step, sr *StepReport) error {
	p := st.Passcode
	doc, err := r.document(ctx, p.Context)
	if err != nil {
		return err
	}
	input, err := engine.ParseCandidates(p.Input)
	if err != nil {
		return err
	}
	submit, err := engine.ParseCandidates(p.Submit)
	if err != nil {
		return err
	}
	rejected, err := engine.ParseCandidates(p.Rejected)
	if err != nil {
		return err
	}
	secretEnv := p.SecretEnv
	if secretEnv == "" {
		secretEnv = r.cfg.Passcode().SecretEnv
	}

	ch := engine.PasscodeChallenge{
		Step:   st.Label(sr.Index),
		Secret: engine.EnvSecret(secretEnv),
		Submit: func(ctx context.Context, code string) error {
			field, err := r.locator.Resolve(ctx, input, engine.Within(doc))
			if err != nil {
				return err
			}
			record(sr, field)
			if err := r.locator.Act(ctx, field, engine.Action{Kind: engine.ActionFill, Value: code}); err != nil {
				return err
			}
			button, err := r.locator.Resolve(ctx, submit, engine.Within(doc))
			if err != nil {
				return err
			}
			// An armed dialog belongs to the first submission only.
			return r.withDialog(ctx, st.Label(sr.Index), func(ctx context.Context) error {
				return r.locator.Act(ctx, button, engine.Action{Kind: engine.ActionClick})
			})
		},
		Rejected: func(ctx context.Context) (bool, error) {
			res, err := r.locator.Probe(ctx, rejected, engine.Within(doc))
			return res != nil, err
		},
	}
	outcome, err := r.passcode.Authenticate(ctx, ch)
	sr.Passcode = outcome
	return err
}

func (r *Runner) screenshotPath(name string) (string, error) {
	p, err := homedir.Expand(name)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := homedir.Expand(r.cfg.Runner().ScreenshotDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

func (r *Runner) capture(ctx context.Context, name string) (string, error) {
	path, err := r.screenshotPath(name)
	if err != nil {
		return "", err
	}
	buf, err := r.driver.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

func (r *Runner) screenshot(ctx context.Context, st Step, sr *StepReport) error {
	name, err := r.expand(st.Value)
	if err != nil {
		return err
	}
	if name == "" {
		name = fmt.Sprintf("%s-%02d.png", r.report.RunID, sr.Index+1)
	}
	path, err := r.capture(ctx, name)
	if err != nil {
		return err
	}
	sr.Screenshot = path
	return nil
}

// failureScreenshot captures the page after a failed step. Its own errors
// are only logged.
func (r *Runner) failureScreenshot(ctx context.Context, i int) {
	if !r.cfg.Runner().ScreenshotOnFailure {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	path, err := r.capture(ctx, fmt.Sprintf("%s-%02d-failure.png", r.report.RunID, i+1))
	if err != nil {
		r.logger.Warn("Failed to capture failure screenshot.", zap.Error(err))
		return
	}
	r.report.Steps[len(r.report.Steps)-1].Screenshot = path
}

func (r *Runner) pause(ctx context.Context, st Step, _ *StepReport) error {
	return r.clock.Sleep(ctx, st.Duration)
}
