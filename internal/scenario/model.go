// internal/scenario/model.go

// Package scenario loads declarative YAML scenarios and drives them through
// the interaction engine against a browser driver.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/steady/internal/engine"
)

// StepKind names what a step does.
type StepKind string

const (
	StepNavigate    StepKind = "navigate"
	StepClick       StepKind = "click"
	StepFill        StepKind = "fill"
	StepCheck       StepKind = "check"
	StepUncheck     StepKind = "uncheck"
	StepSelect      StepKind = "select"
	StepPress       StepKind = "press"
	StepUpload      StepKind = "upload"
	StepHover       StepKind = "hover"
	StepWaitVisible StepKind = "wait_visible"
	StepWaitHidden  StepKind = "wait_hidden"
	StepExpectURL   StepKind = "expect_url"
	StepDialog      StepKind = "dialog"
	StepPasscode    StepKind = "passcode"
	StepScreenshot  StepKind = "screenshot"
	StepPause       StepKind = "pause"
)

// actionKinds maps the steps that dispatch input to their engine action.
var actionKinds = map[StepKind]engine.ActionKind{
	StepClick:   engine.ActionClick,
	StepFill:    engine.ActionFill,
	StepCheck:   engine.ActionCheck,
	StepUncheck: engine.ActionUncheck,
	StepSelect:  engine.ActionSelect,
	StepPress:   engine.ActionPress,
	StepUpload:  engine.ActionUpload,
	StepHover:   engine.ActionHover,
}

// Scenario is one parsed scenario file.
type Scenario struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Steps   []Step `yaml:"steps"`

	// dir is the directory of the file the scenario was loaded from.
	dir string
}

// Dir returns the directory relative paths are resolved against.
func (s *Scenario) Dir() string { return s.dir }

// Targets is a candidate list in its textual form. YAML accepts a single
// string or a sequence.
type Targets []string

func (t *Targets) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*t = Targets{n.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	return fmt.Errorf("line %d: target must be a string or a list of strings", n.Line)
}

// ContextSpec selects the nested document a step runs in.
type ContextSpec struct {
	URLContains []string `yaml:"url_contains"`
	URLMatches  string   `yaml:"url_matches"`
	Name        string   `yaml:"name"`
	Has         Targets  `yaml:"has"`
	// FallbackTop uses the top-level document when nothing matches.
	FallbackTop bool          `yaml:"fallback_top"`
	Wait        time.Duration `yaml:"wait"`
}

// Predicate builds the document predicate. Multiple criteria match when
// any of them does.
func (c *ContextSpec) Predicate() (engine.DocumentPredicate, error) {
	var preds []engine.DocumentPredicate
	if len(c.URLContains) > 0 {
		preds = append(preds, engine.URLContains(c.URLContains...))
	}
	if c.URLMatches != "" {
		re, err := regexp.Compile(c.URLMatches)
		if err != nil {
			return nil, fmt.Errorf("context url_matches: %w", err)
		}
		preds = append(preds, engine.URLMatches(re))
	}
	if c.Name != "" {
		preds = append(preds, engine.NameIs(c.Name))
	}
	for _, raw := range c.Has {
		d, err := engine.ParseDescriptor(raw)
		if err != nil {
			return nil, fmt.Errorf("context has: %w", err)
		}
		preds = append(preds, engine.HasElement(d))
	}
	switch len(preds) {
	case 0:
		return nil, fmt.Errorf("context needs at least one of url_contains, url_matches, name, has")
	case 1:
		return preds[0], nil
	}
	return engine.AnyOf(preds...), nil
}

// StableSpec asks for the target to settle before the action. `stable:
// true` uses the configured defaults.
type StableSpec struct {
	Interval  time.Duration `yaml:"interval"`
	RunLength int           `yaml:"run_length"`
	Tolerance *float64      `yaml:"tolerance"`
	Timeout   time.Duration `yaml:"timeout"`
}

func (s *StableSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var on bool
		if err := n.Decode(&on); err != nil {
			return fmt.Errorf("line %d: stable must be a boolean or a mapping", n.Line)
		}
		if !on {
			return fmt.Errorf("line %d: omit stable instead of setting it to false", n.Line)
		}
		*s = StableSpec{}
		return nil
	}
	type plain StableSpec
	return n.Decode((*plain)(s))
}

// Options converts s to poller options; zero fields fall back to the poller defaults.
func (s *StableSpec) Options() engine.StabilityOptions {
	o := engine.StabilityOptions{Interval: s.Interval, RunLength: s.RunLength, Timeout: s.Timeout}
	switch {
	case s.Tolerance == nil:
	case *s.Tolerance == 0:
		o.Exact = true
	default:
		o.Tolerance = engine.UniformTolerance(*s.Tolerance)
	}
	return o
}

// DialogSpec arms a one-shot dialog answer for the next action step.
type DialogSpec struct {
	Policy string `yaml:"policy"`
	Text   string `yaml:"text"`
}

// PasscodeSpec describes a one-time passcode challenge.
type PasscodeSpec struct {
	SecretEnv string       `yaml:"secret_env"`
	Input     Targets      `yaml:"input"`
	Submit    Targets      `yaml:"submit"`
	Rejected  Targets      `yaml:"rejected"`
	Context   *ContextSpec `yaml:"context"`
}

// Step is a single scenario instruction. In YAML a step is a mapping with
// exactly one key, the kind, whose value is either a shorthand or a body.
type Step struct {
	Kind StepKind

	Target   Targets
	Value    string
	Files    []string
	Optional bool
	Timeout  time.Duration
	Nth      *int
	Context  *ContextSpec
	Stable   *StableSpec
	// ForceOnUnstable dispatches anyway when the target never settles.
	ForceOnUnstable bool
	Force           bool

	Dialog   *DialogSpec
	Passcode *PasscodeSpec
	// Duration is the pause length.
	Duration time.Duration

	// Line is the YAML line of the step, for diagnostics.
	Line int
}

// body is the long form shared by the element steps.
type body struct {
	Target          Targets       `yaml:"target"`
	Value           string        `yaml:"value"`
	Files           []string      `yaml:"files"`
	Optional        bool          `yaml:"optional"`
	Timeout         time.Duration `yaml:"timeout"`
	Nth             *int          `yaml:"nth"`
	Context         *ContextSpec  `yaml:"context"`
	Stable          *StableSpec   `yaml:"stable"`
	ForceOnUnstable bool          `yaml:"force_on_unstable"`
	Force           bool          `yaml:"force"`
	URL             string        `yaml:"url"`
	Path            string        `yaml:"path"`
}

func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return fmt.Errorf("line %d: a step is a mapping with exactly one key", n.Line)
	}
	key, val := n.Content[0], n.Content[1]
	s.Kind = StepKind(key.Value)
	s.Line = key.Line

	switch s.Kind {
	case StepNavigate, StepExpectURL, StepScreenshot:
		if val.Kind == yaml.ScalarNode {
			s.Value = val.Value
			return nil
		}
		var b body
		if err := val.Decode(&b); err != nil {
			return err
		}
		s.Value, s.Timeout = b.URL, b.Timeout
		if s.Kind == StepScreenshot {
			s.Value = b.Path
		}
		return nil
	case StepPause:
		return val.Decode(&s.Duration)
	case StepDialog:
		s.Dialog = &DialogSpec{}
		return val.Decode(s.Dialog)
	case StepPasscode:
		s.Passcode = &PasscodeSpec{}
		return val.Decode(s.Passcode)
	case StepWaitVisible, StepWaitHidden:
	default:
		if _, ok := actionKinds[s.Kind]; !ok {
			return fmt.Errorf("line %d: unknown step kind %q", key.Line, key.Value)
		}
	}

	if val.Kind != yaml.MappingNode {
		return val.Decode(&s.Target)
	}
	var b body
	if err := val.Decode(&b); err != nil {
		return err
	}
	s.Target, s.Value, s.Files = b.Target, b.Value, b.Files
	s.Optional, s.Timeout, s.Nth = b.Optional, b.Timeout, b.Nth
	s.Context, s.Stable = b.Context, b.Stable
	s.ForceOnUnstable, s.Force = b.ForceOnUnstable, b.Force
	return nil
}

// Label names the step in logs and reports.
func (s Step) Label(index int) string {
	return fmt.Sprintf("#%d %s", index+1, s.Kind)
}

// Candidates parses the step's target list and applies Nth to each entry
// that does not set its own.
func (s Step) Candidates() (engine.CandidateList, error) {
	list, err := engine.ParseCandidates(s.Target)
	if err != nil {
		return nil, err
	}
	if s.Nth != nil {
		for i := range list {
			if list[i].Nth < 0 {
				list[i] = list[i].At(*s.Nth)
			}
		}
	}
	return list, nil
}

// Validate checks what can be known before a browser exists.
func (s Step) Validate() error {
	switch s.Kind {
	case StepNavigate, StepExpectURL:
		if s.Value == "" {
			return fmt.Errorf("%s needs a value", s.Kind)
		}
		if s.Kind == StepExpectURL {
			if _, err := regexp.Compile(s.Value); err != nil {
				return fmt.Errorf("expect_url: %w", err)
			}
		}
		return nil
	case StepPause:
		if s.Duration <= 0 {
			return fmt.Errorf("pause needs a positive duration")
		}
		return nil
	case StepScreenshot:
		return nil
	case StepDialog:
		_, err := engine.ParseDialogPolicy(s.Dialog.Policy)
		return err
	case StepPasscode:
		p := s.Passcode
		for name, t := range map[string]Targets{"input": p.Input, "submit": p.Submit, "rejected": p.Rejected} {
			if _, err := engine.ParseCandidates(t); err != nil {
				return fmt.Errorf("passcode %s: %w", name, err)
			}
		}
		if p.Context != nil {
			if _, err := p.Context.Predicate(); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := s.Candidates(); err != nil {
		return err
	}
	if s.Context != nil {
		if _, err := s.Context.Predicate(); err != nil {
			return err
		}
	}
	switch s.Kind {
	case StepFill, StepSelect, StepPress:
		if s.Value == "" {
			return fmt.Errorf("%s needs a value", s.Kind)
		}
	case StepUpload:
		if len(s.Files) == 0 {
			return fmt.Errorf("upload needs at least one file")
		}
	}
	return nil
}

// Parse decodes and validates a scenario. dir anchors relative paths.
func Parse(data []byte, dir string) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, st := range sc.Steps {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("step %s (line %d): %w", st.Label(i), st.Line, err)
		}
	}
	sc.dir = dir
	return &sc, nil
}

// Load reads and parses the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = filepath.Base(path)
	}
	return sc, nil
}
