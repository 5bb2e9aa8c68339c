// internal/scenario/report.go
package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/steady/internal/engine"
)

// Status values for runs and steps.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	// StatusForced marks a step dispatched without its target settling.
	StatusForced = "forced"
)

// StepReport is the outcome of one step.
type StepReport struct {
	Index    int           `json:"index"`
	Kind     StepKind      `json:"kind"`
	Line     int           `json:"line,omitempty"`
	Status   string        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`

	Descriptor     string `json:"descriptor,omitempty"`
	CandidateIndex *int   `json:"candidate_index,omitempty"`
	Document       string `json:"document,omitempty"`

	Stable           *bool `json:"stable,omitempty"`
	StabilitySamples int   `json:"stability_samples,omitempty"`

	Passcode *engine.PasscodeOutcome `json:"passcode,omitempty"`
	Dialogs  []engine.DialogRecord   `json:"dialogs,omitempty"`

	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is the JSON record of a scenario run.
type Report struct {
	RunID    uuid.UUID    `json:"run_id"`
	Scenario string       `json:"scenario"`
	Driver   string       `json:"driver"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Status   string       `json:"status"`
	Error    string       `json:"error,omitempty"`

	// TotalSteps counts the scenario's steps; Steps stops at the first
	// failure.
	TotalSteps int          `json:"total_steps"`
	Steps      []StepReport `json:"steps"`
}

// NewReport starts a report with a fresh run id.
func NewReport(scenario, driver string, started time.Time) *Report {
	return &Report{RunID: uuid.New(), Scenario: scenario, Driver: driver, Started: started, Status: StatusPassed}
}

// Encode writes r as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// openOutput returns stdout for "" or "-", otherwise creates the file,
// expanding a leading ~ and creating parent directories.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" || path == "stdout" {
		return nopWriteCloser{os.Stdout}, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	f, err := os.Create(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", expanded, err)
	}
	return f, nil
}

// WriteFile encodes r to path; "-" means stdout.
func (r *Report) WriteFile(path string) error {
	w, err := openOutput(path)
	if err != nil {
		return err
	}
	if err := r.Encode(w); err != nil {
		w.Close()
		return fmt.Errorf("encoding report: %w", err)
	}
	return w.Close()
}
