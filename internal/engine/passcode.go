// internal/engine/passcode.go
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// CodeGenerator derives a one-time passcode from a shared secret.
type CodeGenerator interface {
	Generate(secret string, at time.Time) (string, error)
	// Period is the length of one time step; codes only change at step
	// boundaries.
	Period() time.Duration
}

// TOTPGenerator implements RFC 6238 codes.
type TOTPGenerator struct {
	Digits    int
	StepSize  time.Duration
	Algorithm string
}

// NewTOTPGenerator validates the parameters and returns a generator.
func NewTOTPGenerator(digits int, period time.Duration, algorithm string) (*TOTPGenerator, error) {
	if digits != 6 && digits != 8 {
		return nil, fmt.Errorf("totp: unsupported digit count %d", digits)
	}
	if period < time.Second || period%time.Second != 0 {
		return nil, fmt.Errorf("totp: period must be a whole number of seconds, got %s", period)
	}
	if _, err := parseAlgorithm(algorithm); err != nil {
		return nil, err
	}
	return &TOTPGenerator{Digits: digits, StepSize: period, Algorithm: algorithm}, nil
}

// Period returns the time step.
func (g *TOTPGenerator) Period() time.Duration { return g.StepSize }

// Generate returns the code valid at the given time.
func (g *TOTPGenerator) Generate(secret string, at time.Time) (string, error) {
	alg, err := parseAlgorithm(g.Algorithm)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(NormalizeSecret(secret), at, totp.ValidateOpts{
		Period:    uint(g.StepSize / time.Second),
		Skew:      0,
		Digits:    otp.Digits(g.Digits),
		Algorithm: alg,
	})
	if err != nil {
		return "", fmt.Errorf("totp: generating code: %w", err)
	}
	return code, nil
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	case "MD5":
		return otp.AlgorithmMD5, nil
	}
	return 0, fmt.Errorf("totp: unsupported algorithm %q", name)
}

// NormalizeSecret strips the spaces authenticator setup pages insert into
// base32 secrets and upper-cases the result.
func NormalizeSecret(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// StepRemaining returns how long the code generated at `at` stays valid.
func StepRemaining(period time.Duration, at time.Time) time.Duration {
	return nextStep(period, at).Sub(at)
}

func nextStep(period time.Duration, at time.Time) time.Time {
	p := int64(period / time.Second)
	if p <= 0 {
		return at
	}
	return time.Unix((at.Unix()/p+1)*p, 0)
}

// SecretRef resolves a shared secret on demand. String never reveals it.
type SecretRef interface {
	Reveal() (string, error)
	String() string
}

// EnvSecret reads the secret from the named environment variable.
type EnvSecret string

func (e EnvSecret) Reveal() (string, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("secret environment variable %s is not set", string(e))
	}
	return v, nil
}

func (e EnvSecret) String() string { return "env:" + string(e) }

// StaticSecret holds the secret in memory.
type StaticSecret string

func (s StaticSecret) Reveal() (string, error) {
	if s == "" {
		return "", fmt.Errorf("static secret is empty")
	}
	return string(s), nil
}

func (StaticSecret) String() string { return "static:****" }

// PasscodeState is one node of the authentication state machine.
type PasscodeState string

const (
	StateGenerated                 PasscodeState = "generated"
	StateSubmitted                 PasscodeState = "submitted"
	StateAccepted                  PasscodeState = "accepted"
	StateRejectedOnce              PasscodeState = "rejected_once"
	StateRegeneratedAndResubmitted PasscodeState = "regenerated_and_resubmitted"
	StateFailed                    PasscodeState = "failed"
)

// PasscodeChallenge binds the controller to one page's challenge. Submit
// enters and sends a code; Rejected reports whether the page currently
// shows a rejection.
type PasscodeChallenge struct {
	Step     string
	Secret   SecretRef
	Submit   func(ctx context.Context, code string) error
	Rejected func(ctx context.Context) (bool, error)
}

// PasscodeAttempt records a single generate-and-submit cycle.
type PasscodeAttempt struct {
	Number      int       `json:"number"`
	Code        string    `json:"-"`
	GeneratedAt time.Time `json:"generated_at"`
	Outcome     string    `json:"outcome"`
}

// Masked returns the code with all but its first two digits hidden.
func (a PasscodeAttempt) Masked() string { return maskCode(a.Code) }

// PasscodeOutcome is the result of Authenticate.
type PasscodeOutcome struct {
	Step        string            `json:"step"`
	Accepted    bool              `json:"accepted"`
	Attempts    []PasscodeAttempt `json:"attempts"`
	Transitions []PasscodeState   `json:"transitions"`
}

// PasscodeConfig holds controller timing.
type PasscodeConfig struct {
	// RejectionWait is how long the page is watched for a rejection after
	// each submission.
	RejectionWait time.Duration
	PollInterval  time.Duration
}

// PasscodeController submits a time-based passcode and retries exactly once
// with a code from the next time step.
type PasscodeController struct {
	gen    CodeGenerator
	clock  Clock
	logger *zap.Logger
	cfg    PasscodeConfig
}

// NewPasscodeController creates a controller.
func NewPasscodeController(gen CodeGenerator, clock Clock, logger *zap.Logger, cfg PasscodeConfig) *PasscodeController {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &PasscodeController{gen: gen, clock: clock, logger: logger.Named("passcode"), cfg: cfg}
}

const maxPasscodeAttempts = 2

// Authenticate drives the challenge to acceptance or failure. A rejected
// first attempt waits for the next time step so the retry carries a
// different code. After the retry is rejected it returns
// *AuthenticationRejectedError together with the outcome.
func (c *PasscodeController) Authenticate(ctx context.Context, ch PasscodeChallenge) (*PasscodeOutcome, error) {
	if ch.Secret == nil || ch.Submit == nil || ch.Rejected == nil {
		return nil, fmt.Errorf("%s: incomplete passcode challenge", ch.Step)
	}
	secret, err := ch.Secret.Reveal()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ch.Step, err)
	}
	log := c.logger.With(zap.String("step", ch.Step), zap.Stringer("secret", ch.Secret))
	out := &PasscodeOutcome{Step: ch.Step}

	var prev *PasscodeAttempt
	for n := 1; n <= maxPasscodeAttempts; n++ {
		if prev != nil {
			wait := nextStep(c.gen.Period(), prev.GeneratedAt).Sub(c.clock.Now())
			log.Info("Passcode rejected, waiting for the next time step.", zap.Duration("wait", wait))
			if wait > 0 {
				if err := c.clock.Sleep(ctx, wait); err != nil {
					return out, err
				}
			}
		}

		// The first rejection may still be on screen when the retry goes
		// out; only a rejection shown after it has cleared counts.
		stale := false
		if prev != nil {
			if stale, err = ch.Rejected(ctx); err != nil {
				return out, fmt.Errorf("%s: checking passcode outcome: %w", ch.Step, err)
			}
		}

		at := c.clock.Now()
		code, err := c.gen.Generate(secret, at)
		if err != nil {
			return out, fmt.Errorf("%s: %w", ch.Step, err)
		}
		attempt := PasscodeAttempt{Number: n, Code: code, GeneratedAt: at}
		out.Transitions = append(out.Transitions, StateGenerated)
		log.Debug("Generated passcode.", zap.Int("attempt", n), zap.String("code", maskCode(code)))

		if err := ch.Submit(ctx, code); err != nil {
			return out, fmt.Errorf("%s: submitting passcode (attempt %d): %w", ch.Step, n, err)
		}
		if n == 1 {
			out.Transitions = append(out.Transitions, StateSubmitted)
		} else {
			out.Transitions = append(out.Transitions, StateRegeneratedAndResubmitted)
		}

		rejected, err := c.awaitRejection(ctx, ch, stale)
		if err != nil {
			return out, fmt.Errorf("%s: checking passcode outcome: %w", ch.Step, err)
		}
		if !rejected {
			attempt.Outcome = "accepted"
			out.Attempts = append(out.Attempts, attempt)
			out.Transitions = append(out.Transitions, StateAccepted)
			out.Accepted = true
			log.Info("Passcode accepted.", zap.Int("attempt", n))
			return out, nil
		}
		attempt.Outcome = "rejected"
		out.Attempts = append(out.Attempts, attempt)
		if n == 1 {
			out.Transitions = append(out.Transitions, StateRejectedOnce)
		}
		prev = &out.Attempts[len(out.Attempts)-1]
	}

	out.Transitions = append(out.Transitions, StateFailed)
	log.Warn("Passcode rejected twice.")
	return out, &AuthenticationRejectedError{Step: ch.Step, Attempts: len(out.Attempts)}
}

// awaitRejection polls the challenge's rejection signal for RejectionWait.
// The first true wins; no signal within the wait counts as acceptance. With
// stale set, the signal was already raised before the submission and only
// counts once it has been seen clear. A stale signal that never clears is a
// rejection.
func (c *PasscodeController) awaitRejection(ctx context.Context, ch PasscodeChallenge, stale bool) (bool, error) {
	deadline := c.clock.Now().Add(c.cfg.RejectionWait)
	for {
		rejected, err := ch.Rejected(ctx)
		if err != nil {
			return false, err
		}
		if rejected && !stale {
			return true, nil
		}
		if !rejected {
			stale = false
		}
		if !c.clock.Now().Before(deadline) {
			return rejected, nil
		}
		if err := sleepUntil(ctx, c.clock, c.cfg.PollInterval, deadline); err != nil {
			return false, err
		}
	}
}

func maskCode(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return code[:2] + strings.Repeat("*", len(code)-2)
}
