// internal/scenario/runner_test.go
package scenario

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/engine"
	"github.com/xkilldash9x/steady/internal/mocks"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testClock advances only when something sleeps on it.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// sequenceGen hands out codes in order.
type sequenceGen struct {
	codes []string
	n     int
}

func (g *sequenceGen) Generate(string, time.Time) (string, error) {
	code := g.codes[g.n%len(g.codes)]
	g.n++
	return code, nil
}

func (g *sequenceGen) Period() time.Duration { return 30 * time.Second }

type fixture struct {
	runner *Runner
	driver *mocks.MockDriver
	clock  *testClock
	cfg    *config.Config
}

func setupRunner(t *testing.T, env map[string]string, opts ...Option) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.RunnerCfg.ScreenshotDir = t.TempDir()

	driver := new(mocks.MockDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("\x89PNG"), nil).Maybe()
	clock := &testClock{now: testEpoch}

	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	all := append([]Option{WithClock(clock), WithLookupEnv(lookup)}, opts...)
	r, err := NewRunner(driver, cfg, zaptest.NewLogger(t), all...)
	require.NoError(t, err)
	return &fixture{runner: r, driver: driver, clock: clock, cfg: cfg}
}

// desc matches a descriptor by its textual form.
func desc(t *testing.T, raw string) interface{} {
	t.Helper()
	d, err := engine.ParseDescriptor(raw)
	require.NoError(t, err)
	want := d.String()
	return mock.MatchedBy(func(got engine.Descriptor) bool { return got.String() == want })
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := Parse([]byte(doc), t.TempDir())
	require.NoError(t, err)
	return sc
}

func (f *fixture) present(t *testing.T, raw string, h engine.Handle) {
	f.driver.On("FindAll", mock.Anything, desc(t, raw), mock.Anything).Return([]engine.Handle{h}, nil)
	f.driver.On("IsActionable", mock.Anything, h).Return(true, nil).Maybe()
}

func (f *fixture) absent(t *testing.T, raw string) {
	f.driver.On("FindAll", mock.Anything, desc(t, raw), mock.Anything).Return(nil, nil)
}

func TestRunner_NavigateFillClick(t *testing.T) {
	f := setupRunner(t, map[string]string{"USER_EMAIL": "qa@example.test"})
	email := &mocks.Handle{Label: "email"}
	submit := &mocks.Handle{Label: "submit"}

	f.driver.On("Navigate", mock.Anything, "https://example.test/app/login").Return(nil).Once()
	f.present(t, "label=Email", email)
	f.present(t, `role=button name="Sign in"`, submit)
	f.driver.On("Dispatch", mock.Anything, email, engine.Action{Kind: engine.ActionFill, Value: "qa@example.test"}).Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, submit, engine.Action{Kind: engine.ActionClick}).Return(nil).Once()

	sc := mustParse(t, `
name: login
base_url: https://example.test/app/
steps:
  - navigate: login
  - fill:
      target: ["label=Email", "css=#email"]
      value: ${USER_EMAIL}
  - click: role=button name="Sign in"
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, report.Status)
	assert.Equal(t, "login", report.Scenario)
	assert.Equal(t, config.DriverCDP, report.Driver)
	require.Len(t, report.Steps, 3)
	for _, sr := range report.Steps {
		assert.Equal(t, StatusPassed, sr.Status, sr.Kind)
	}
	require.NotNil(t, report.Steps[1].CandidateIndex)
	assert.Equal(t, 0, *report.Steps[1].CandidateIndex)
	f.driver.AssertExpectations(t)
}

func TestRunner_FallbackCandidateAfterWindow(t *testing.T) {
	f := setupRunner(t, nil)
	btn := &mocks.Handle{Label: "legacy"}
	f.absent(t, "css=#new-button")
	f.present(t, "css=#legacy-button", btn)
	f.driver.On("Dispatch", mock.Anything, btn, engine.Action{Kind: engine.ActionClick}).Return(nil).Once()

	sc := mustParse(t, "steps:\n  - click: [css=#new-button, css=#legacy-button]\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	sr := report.Steps[0]
	require.NotNil(t, sr.CandidateIndex)
	assert.Equal(t, 1, *sr.CandidateIndex)
	assert.Equal(t, "css=#legacy-button", sr.Descriptor)
	assert.GreaterOrEqual(t, f.clock.Now().Sub(testEpoch), f.cfg.EngineCfg.Locator.Timeout,
		"the fallback is held until the locator timeout")
}

func TestRunner_PreferredTargetAppearingLateWins(t *testing.T) {
	f := setupRunner(t, nil)
	preferred := &mocks.Handle{Label: "new"}
	legacy := &mocks.Handle{Label: "legacy"}
	f.driver.On("FindAll", mock.Anything, desc(t, "css=#new-button"), mock.Anything).
		Return([]engine.Handle{preferred}, nil)
	// Rounds run every 100ms from t=0; the preferred button becomes
	// actionable in the round at 3s.
	f.driver.On("IsActionable", mock.Anything, preferred).Return(false, nil).Times(30)
	f.driver.On("IsActionable", mock.Anything, preferred).Return(true, nil)
	f.absent(t, "css=#other-button")
	f.present(t, "css=#legacy-button", legacy)
	f.driver.On("Dispatch", mock.Anything, preferred, engine.Action{Kind: engine.ActionClick}).Return(nil).Once()

	sc := mustParse(t, "steps:\n  - click: [css=#new-button, css=#other-button, css=#legacy-button]\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	sr := report.Steps[0]
	require.NotNil(t, sr.CandidateIndex)
	assert.Equal(t, 0, *sr.CandidateIndex)
	assert.Equal(t, 3*time.Second, f.clock.Now().Sub(testEpoch))
	f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, legacy, mock.Anything)
}

func TestRunner_OptionalTargetSkipped(t *testing.T) {
	f := setupRunner(t, nil)
	f.absent(t, "css=#cookie-banner")

	sc := mustParse(t, `
steps:
  - click:
      target: css=#cookie-banner
      optional: true
      timeout: 1s
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, report.Status)
	assert.Equal(t, StatusSkipped, report.Steps[0].Status)
	f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_MissingTargetFailsWithScreenshot(t *testing.T) {
	f := setupRunner(t, nil)
	f.absent(t, "css=#gone")

	sc := mustParse(t, "steps:\n  - click:\n      target: css=#gone\n      timeout: 1s\n  - navigate: /never\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrNoCandidate)
	assert.Contains(t, err.Error(), "#1 click (line 2)")

	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, 2, report.TotalSteps)
	require.Len(t, report.Steps, 1, "the run stops at the failing step")
	sr := report.Steps[0]
	assert.Equal(t, StatusFailed, sr.Status)
	require.NotEmpty(t, sr.Screenshot)
	assert.FileExists(t, sr.Screenshot)
	f.driver.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestRunner_DialogAnsweredDuringClick(t *testing.T) {
	f := setupRunner(t, nil)
	btn := &mocks.Handle{Label: "prompt"}
	f.present(t, "text=Open prompt", btn)

	prompt := new(mocks.MockDialog)
	prompt.On("Kind").Return(engine.DialogPrompt)
	prompt.On("Message").Return("Please enter your name:")
	prompt.On("Accept", "Playwright Rocks!").Return(nil).Once()

	f.driver.On("Dispatch", mock.Anything, btn, engine.Action{Kind: engine.ActionClick}).
		Run(func(mock.Arguments) { f.driver.RaiseDialog(prompt) }).
		Return(nil).Once()

	sc := mustParse(t, `
steps:
  - dialog:
      policy: accept_with_text
      text: Playwright Rocks!
  - click: text=Open prompt
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	require.Len(t, report.Steps[1].Dialogs, 1)
	rec := report.Steps[1].Dialogs[0]
	assert.True(t, rec.Expected)
	assert.Equal(t, engine.PolicyAcceptWithText, rec.Policy)
	assert.Equal(t, "#2 click", rec.Step)
	prompt.AssertExpectations(t)
}

func TestRunner_UnexpectedDialogFailsStep(t *testing.T) {
	f := setupRunner(t, nil)
	btn := &mocks.Handle{Label: "alert"}
	f.present(t, "css=#alert", btn)

	alert := new(mocks.MockDialog)
	alert.On("Kind").Return(engine.DialogAlert)
	alert.On("Message").Return("boom")
	alert.On("Dismiss").Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, btn, mock.Anything).
		Run(func(mock.Arguments) { f.driver.RaiseDialog(alert) }).
		Return(nil)

	sc := mustParse(t, "steps:\n  - click: css=#alert\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnhandledDialog)
	require.Len(t, report.Steps[0].Dialogs, 1)
	assert.False(t, report.Steps[0].Dialogs[0].Expected)
	alert.AssertExpectations(t)
}

func TestRunner_DialogExpectationLapsesWithSkippedStep(t *testing.T) {
	f := setupRunner(t, nil)
	f.absent(t, "css=#maybe")
	btn := &mocks.Handle{Label: "other"}
	f.present(t, "css=#other", btn)

	confirm := new(mocks.MockDialog)
	confirm.On("Kind").Return(engine.DialogConfirm)
	confirm.On("Message").Return("Sure?")
	confirm.On("Dismiss").Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, btn, mock.Anything).
		Run(func(mock.Arguments) { f.driver.RaiseDialog(confirm) }).
		Return(nil)

	sc := mustParse(t, `
steps:
  - dialog:
      policy: accept
  - click:
      target: css=#maybe
      optional: true
      timeout: 500ms
  - click: css=#other
`)
	_, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnhandledDialog, "the skipped step consumed the expectation")
	confirm.AssertNotCalled(t, "Accept", mock.Anything)
}

// stepGeometries serves h's geometry for as many reads as the poller makes.
// A moving target shifts 25px to the right on every read.
func stepGeometries(f *fixture, h engine.Handle, moving bool) {
	reads := 0
	f.driver.On("ReadGeometry", mock.Anything, h).Return(func() engine.Geometry {
		g := engine.Geometry{X: 10, Y: 10, Width: 80, Height: 20}
		if moving {
			g.X += float64(reads * 25)
		}
		reads++
		return g
	}, nil)
}

func TestRunner_DialogAnsweredDuringPasscodeSubmit(t *testing.T) {
	t.Setenv("STEADY_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	f := setupRunner(t, nil, WithGenerator(&sequenceGen{codes: []string{"123456"}}))
	input := &mocks.Handle{Label: "otp"}
	verify := &mocks.Handle{Label: "verify"}
	f.present(t, "css=#otp", input)
	f.present(t, "css=#verify", verify)
	f.absent(t, "css=.error")

	confirm := new(mocks.MockDialog)
	confirm.On("Kind").Return(engine.DialogConfirm)
	confirm.On("Message").Return("Trust this device?")
	confirm.On("Accept", "").Return(nil).Once()

	f.driver.On("Dispatch", mock.Anything, input, engine.Action{Kind: engine.ActionFill, Value: "123456"}).Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, verify, engine.Action{Kind: engine.ActionClick}).
		Run(func(mock.Arguments) { f.driver.RaiseDialog(confirm) }).
		Return(nil).Once()

	sc := mustParse(t, `
steps:
  - dialog:
      policy: accept
  - passcode:
      input: css=#otp
      submit: css=#verify
      rejected: css=.error
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	require.Len(t, report.Steps[1].Dialogs, 1)
	assert.True(t, report.Steps[1].Dialogs[0].Expected)
	assert.Equal(t, "#2 passcode", report.Steps[1].Dialogs[0].Step)
	confirm.AssertExpectations(t)
}

func TestRunner_DialogAnsweredDuringNavigate(t *testing.T) {
	f := setupRunner(t, nil)
	leave := new(mocks.MockDialog)
	leave.On("Kind").Return(engine.DialogConfirm)
	leave.On("Message").Return("Leave site?")
	leave.On("Dismiss").Return(nil).Once()
	f.driver.On("Navigate", mock.Anything, "https://example.test/next").
		Run(func(mock.Arguments) { f.driver.RaiseDialog(leave) }).
		Return(nil).Once()

	sc := mustParse(t, `
steps:
  - dialog:
      policy: dismiss
  - navigate: https://example.test/next
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, report.Steps[1].Dialogs, 1)
	assert.True(t, report.Steps[1].Dialogs[0].Expected)
	leave.AssertExpectations(t)
}

func TestRunner_DialogExpectationLapsesAfterUnrelatedStep(t *testing.T) {
	f := setupRunner(t, nil)
	btn := &mocks.Handle{Label: "delete"}
	f.present(t, "css=#delete", btn)

	confirm := new(mocks.MockDialog)
	confirm.On("Kind").Return(engine.DialogConfirm)
	confirm.On("Message").Return("Delete everything?")
	confirm.On("Dismiss").Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, btn, mock.Anything).
		Run(func(mock.Arguments) { f.driver.RaiseDialog(confirm) }).
		Return(nil)

	sc := mustParse(t, `
steps:
  - dialog:
      policy: accept
  - pause: 10ms
  - click: css=#delete
`)
	_, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnhandledDialog, "the pause step lets the expectation lapse")
	confirm.AssertNotCalled(t, "Accept", mock.Anything)
}

func TestRunner_StableTargetDispatches(t *testing.T) {
	f := setupRunner(t, nil)
	btn := &mocks.Handle{Label: "pay"}
	f.present(t, "css=#pay", btn)
	stepGeometries(f, btn, false)
	f.driver.On("Dispatch", mock.Anything, btn, engine.Action{Kind: engine.ActionClick}).Return(nil).Once()

	sc := mustParse(t, "steps:\n  - click:\n      target: css=#pay\n      stable: true\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	sr := report.Steps[0]
	require.NotNil(t, sr.Stable)
	assert.True(t, *sr.Stable)
	assert.Equal(t, f.cfg.EngineCfg.Stability.RunLength, sr.StabilitySamples)
	assert.Equal(t, StatusPassed, sr.Status)
}

func TestRunner_UnstableTarget(t *testing.T) {
	doc := `
steps:
  - click:
      target: css=#carousel
      stable:
        interval: 100ms
        timeout: 1s
`
	t.Run("fails without force", func(t *testing.T) {
		f := setupRunner(t, nil)
		h := &mocks.Handle{Label: "carousel"}
		f.present(t, "css=#carousel", h)
		stepGeometries(f, h, true)

		report, err := f.runner.Run(context.Background(), mustParse(t, doc))
		require.Error(t, err)
		assert.ErrorIs(t, err, engine.ErrStabilityTimeout)
		require.NotNil(t, report.Steps[0].Stable)
		assert.False(t, *report.Steps[0].Stable)
		f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("forced", func(t *testing.T) {
		f := setupRunner(t, nil)
		h := &mocks.Handle{Label: "carousel"}
		f.present(t, "css=#carousel", h)
		stepGeometries(f, h, true)
		f.driver.On("Dispatch", mock.Anything, h, engine.Action{Kind: engine.ActionClick, Force: true}).Return(nil).Once()

		report, err := f.runner.Run(context.Background(), mustParse(t, doc+"      force_on_unstable: true\n"))
		require.NoError(t, err)
		assert.Equal(t, StatusForced, report.Steps[0].Status)
		assert.Positive(t, report.Steps[0].StabilitySamples)
		f.driver.AssertCalled(t, "Dispatch", mock.Anything, h, engine.Action{Kind: engine.ActionClick, Force: true})
		f.driver.AssertExpectations(t)
	})
}

func TestRunner_PasscodeRetriesOnce(t *testing.T) {
	t.Setenv("STEADY_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	gen := &sequenceGen{codes: []string{"111111", "222222"}}
	f := setupRunner(t, nil, WithGenerator(gen))

	input := &mocks.Handle{Label: "otp"}
	verify := &mocks.Handle{Label: "verify"}
	banner := &mocks.Handle{Label: "invalid"}
	f.present(t, "css=#otp", input)
	f.present(t, "role=button name=Verify", verify)
	// The rejection banner shows once, after the first submission.
	f.driver.On("FindAll", mock.Anything, desc(t, "text=/invalid code/i"), mock.Anything).
		Return([]engine.Handle{banner}, nil).Once()
	f.driver.On("FindAll", mock.Anything, desc(t, "text=/invalid code/i"), mock.Anything).Return(nil, nil)
	f.driver.On("IsActionable", mock.Anything, banner).Return(true, nil)

	f.driver.On("Dispatch", mock.Anything, input, engine.Action{Kind: engine.ActionFill, Value: "111111"}).Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, input, engine.Action{Kind: engine.ActionFill, Value: "222222"}).Return(nil).Once()
	f.driver.On("Dispatch", mock.Anything, verify, engine.Action{Kind: engine.ActionClick}).Return(nil).Twice()

	sc := mustParse(t, `
steps:
  - passcode:
      input: css=#otp
      submit: role=button name=Verify
      rejected: text=/invalid code/i
`)
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	out := report.Steps[0].Passcode
	require.NotNil(t, out)
	assert.True(t, out.Accepted)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, "rejected", out.Attempts[0].Outcome)
	assert.Equal(t, "accepted", out.Attempts[1].Outcome)
	assert.False(t, out.Attempts[1].GeneratedAt.Before(testEpoch.Add(30*time.Second)),
		"the retry waits for the next time step")
	f.driver.AssertExpectations(t)
}

func TestRunner_PasscodeMissingSecret(t *testing.T) {
	f := setupRunner(t, nil, WithGenerator(&sequenceGen{codes: []string{"000000"}}))
	sc := mustParse(t, `
steps:
  - passcode:
      secret_env: STEADY_TEST_UNSET_SECRET
      input: css=#otp
      submit: css=#go
      rejected: css=.error
`)
	_, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STEADY_TEST_UNSET_SECRET")
	f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_Upload(t *testing.T) {
	t.Run("resolves relative to the scenario", func(t *testing.T) {
		f := setupRunner(t, nil)
		h := &mocks.Handle{Label: "file"}
		f.present(t, "css=#file", h)

		sc := mustParse(t, "steps:\n  - upload:\n      target: css=#file\n      files: [avatar.png]\n")
		abs := filepath.Join(sc.Dir(), "avatar.png")
		require.NoError(t, os.WriteFile(abs, []byte("img"), 0o644))
		f.driver.On("Dispatch", mock.Anything, h, engine.Action{Kind: engine.ActionUpload, Files: []string{abs}}).Return(nil).Once()

		_, err := f.runner.Run(context.Background(), sc)
		require.NoError(t, err)
		f.driver.AssertExpectations(t)
	})

	t.Run("missing file fails before dispatch", func(t *testing.T) {
		f := setupRunner(t, nil)
		f.present(t, "css=#file", &mocks.Handle{Label: "file"})

		sc := mustParse(t, "steps:\n  - upload:\n      target: css=#file\n      files: [nope.png]\n")
		_, err := f.runner.Run(context.Background(), sc)
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRunner_UndefinedVariable(t *testing.T) {
	f := setupRunner(t, map[string]string{"A": "1"})
	f.present(t, "css=#in", &mocks.Handle{Label: "in"})

	sc := mustParse(t, "steps:\n  - fill:\n      target: css=#in\n      value: ${A}-${ZED}-${MISSING}\n")
	_, err := f.runner.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable(s): MISSING, ZED")
	f.driver.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_ExpectURL(t *testing.T) {
	f := setupRunner(t, nil)
	f.driver.On("WaitForURL", mock.Anything, mock.MatchedBy(func(re *regexp.Regexp) bool {
		return re.String() == "/ok$"
	})).Return(nil).Once()
	f.driver.On("WaitForURL", mock.Anything, mock.Anything).Return(context.DeadlineExceeded)
	f.driver.On("URL", mock.Anything).Return("https://example.test/login", nil)

	_, err := f.runner.Run(context.Background(), mustParse(t, "steps:\n  - expect_url: /ok$\n"))
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), mustParse(t, "steps:\n  - expect_url:\n      url: /dashboard\n      timeout: 1s\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "(at https://example.test/login)")
}

func TestRunner_WaitHidden(t *testing.T) {
	f := setupRunner(t, nil)
	spinner := &mocks.Handle{Label: "spinner"}
	f.driver.On("FindAll", mock.Anything, desc(t, "css=.spinner"), mock.Anything).Return([]engine.Handle{spinner}, nil).Times(3)
	f.driver.On("FindAll", mock.Anything, desc(t, "css=.spinner"), mock.Anything).Return(nil, nil)
	f.driver.On("IsActionable", mock.Anything, spinner).Return(true, nil)

	report, err := f.runner.Run(context.Background(), mustParse(t, "steps:\n  - wait_hidden: css=.spinner\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, report.Steps[0].Status)
	assert.Equal(t, testEpoch.Add(3*f.cfg.EngineCfg.Locator.Interval), f.clock.Now())
}

func TestRunner_WaitHiddenTimesOut(t *testing.T) {
	f := setupRunner(t, nil)
	f.present(t, "css=.spinner", &mocks.Handle{Label: "spinner"})

	_, err := f.runner.Run(context.Background(), mustParse(t, "steps:\n  - wait_hidden:\n      target: css=.spinner\n      timeout: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still visible")
}

func TestRunner_ScreenshotAndPause(t *testing.T) {
	f := setupRunner(t, nil)
	sc := mustParse(t, "steps:\n  - screenshot: shots/landing.png\n  - pause: 2s\n")
	report, err := f.runner.Run(context.Background(), sc)
	require.NoError(t, err)

	want := filepath.Join(f.cfg.RunnerCfg.ScreenshotDir, "shots", "landing.png")
	assert.Equal(t, want, report.Steps[0].Screenshot)
	assert.FileExists(t, want)
	assert.Equal(t, testEpoch.Add(2*time.Second), f.clock.Now())
}

func TestRunner_ContextCanceled(t *testing.T) {
	f := setupRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx, mustParse(t, "steps:\n  - pause: 1s\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_InvalidPasscodeConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.PasscodeCfg.Algorithm = "SHA3"
	_, err := NewRunner(new(mocks.MockDriver), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
