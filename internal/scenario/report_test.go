// internal/scenario/report_test.go
package scenario

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/steady/internal/engine"
)

func sampleReport() *Report {
	r := NewReport("checkout", "playwright", testEpoch)
	idx := 1
	stable := false
	r.Steps = []StepReport{
		{Index: 0, Kind: StepNavigate, Line: 3, Status: StatusPassed, Started: testEpoch},
		{
			Index: 1, Kind: StepClick, Line: 4, Status: StatusForced, Started: testEpoch,
			Duration:       1500 * time.Millisecond,
			Descriptor:     "css=#pay",
			CandidateIndex: &idx,
			Stable:         &stable,
			Passcode: &engine.PasscodeOutcome{
				Attempts: []engine.PasscodeAttempt{{Number: 1, Code: "123456", Outcome: "accepted"}},
			},
		},
	}
	r.Finished = testEpoch.Add(2 * time.Second)
	return r
}

func TestReport_Encode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Encode(&buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "checkout", decoded["scenario"])
	assert.Equal(t, "playwright", decoded["driver"])
	assert.Equal(t, StatusPassed, decoded["status"])
	assert.NotEmpty(t, decoded["run_id"])

	steps := decoded["steps"].([]interface{})
	require.Len(t, steps, 2)
	first := steps[0].(map[string]interface{})
	assert.NotContains(t, first, "descriptor", "empty fields are omitted")
	second := steps[1].(map[string]interface{})
	assert.Equal(t, "forced", second["status"])
	assert.EqualValues(t, 1, second["candidate_index"])
	assert.Equal(t, false, second["stable"])

	assert.NotContains(t, buf.String(), "123456", "passcodes never reach the report")
}

func TestReport_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "report.json")
	r := sampleReport()
	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.RunID, back.RunID)
	assert.Len(t, back.Steps, 2)
}

func TestNewReport_UniqueRunIDs(t *testing.T) {
	a := NewReport("x", "cdp", testEpoch)
	b := NewReport("x", "cdp", testEpoch)
	assert.NotEqual(t, a.RunID, b.RunID)
}
