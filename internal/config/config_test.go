// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "steady", cfg.Logger().ServiceName)
	assert.Equal(t, DriverCDP, cfg.Browser().Driver)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 15*time.Second, cfg.Browser().ActionTimeout)
	assert.Equal(t, 10*time.Second, cfg.Engine().Locator.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine().Locator.Interval)
	assert.Negative(t, cfg.Engine().Locator.PriorityWindow, "fallbacks are held until the timeout")
	assert.Equal(t, 300*time.Millisecond, cfg.Engine().Stability.Interval)
	assert.Equal(t, 3, cfg.Engine().Stability.RunLength)
	assert.Equal(t, 1.0, cfg.Engine().Stability.Tolerance)
	assert.Equal(t, 15*time.Second, cfg.Engine().Context.Wait)
	assert.Equal(t, 6, cfg.Passcode().Digits)
	assert.Equal(t, 30*time.Second, cfg.Passcode().Period)
	assert.Equal(t, 4*time.Second, cfg.Passcode().RejectionWait)
	assert.True(t, cfg.Runner().ScreenshotOnFailure)
	assert.Equal(t, 10*time.Minute, cfg.Runner().ScenarioTimeout)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestEngineConversions(t *testing.T) {
	cfg := NewDefaultConfig()

	lc := cfg.Engine().LocatorSettings()
	assert.Equal(t, 10*time.Second, lc.Timeout)
	assert.Negative(t, lc.PriorityWindow)

	so := cfg.Engine().StabilitySettings()
	assert.Equal(t, 3, so.RunLength)
	assert.Equal(t, 1.0, so.Tolerance.X)
	assert.Equal(t, 1.0, so.Tolerance.Height)

	pc := cfg.Passcode().ControllerSettings()
	assert.Equal(t, 4*time.Second, pc.RejectionWait)
	assert.Equal(t, 250*time.Millisecond, pc.PollInterval)
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserDriver(DriverPlaywright)
	cfg.SetBrowserHeadless(false)
	cfg.SetRunnerReportPath("/tmp/report.json")

	assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "/tmp/report.json", cfg.Runner().ReportPath)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Browser Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BrowserCfg.Driver = "selenium"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser configuration invalid")
		assert.Contains(t, err.Error(), `got "selenium"`)

		cfg = NewDefaultConfig()
		cfg.BrowserCfg.ActionTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "action_timeout must be a positive duration")
	})

	t.Run("Engine Validation", func(t *testing.T) {
		valid := NewDefaultConfig().EngineCfg
		assert.NoError(t, valid.Validate())

		slowPoll := valid
		slowPoll.Locator.Interval = valid.Locator.Timeout + time.Second
		assert.ErrorContains(t, slowPoll.Validate(), "locator.interval must not exceed locator.timeout")

		noRun := valid
		noRun.Stability.RunLength = 0
		assert.ErrorContains(t, noRun.Validate(), "stability.run_length must be at least 1")

		negTolerance := valid
		negTolerance.Stability.Tolerance = -0.5
		assert.ErrorContains(t, negTolerance.Validate(), "stability.tolerance must not be negative")

		finite := valid
		finite.Locator.PriorityWindow = 2 * time.Second
		assert.NoError(t, finite.Validate(), "a finite priority window is an opt-in")
	})

	t.Run("Passcode Validation", func(t *testing.T) {
		valid := NewDefaultConfig().PasscodeCfg
		assert.NoError(t, valid.Validate())

		sevenDigits := valid
		sevenDigits.Digits = 7
		assert.ErrorContains(t, sevenDigits.Validate(), "digits must be 6 or 8")

		fractional := valid
		fractional.Period = 1500 * time.Millisecond
		assert.ErrorContains(t, fractional.Validate(), "whole number of seconds")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  driver: playwright
  args: ["--lang=en-US"]
engine:
  locator:
    timeout: 20s
    priority_window: -1s
passcode:
  digits: 8
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
		assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser().Args)
		assert.Equal(t, 20*time.Second, cfg.Engine().Locator.Timeout)
		assert.Equal(t, -time.Second, cfg.Engine().Locator.PriorityWindow)
		assert.Equal(t, 8, cfg.Passcode().Digits)
		// Untouched keys keep their defaults.
		assert.Equal(t, 100*time.Millisecond, cfg.Engine().Locator.Interval)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.stability.run_length", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "stability.run_length must be at least 1")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		t.Setenv("STEADY_BROWSER_REMOTE_URL", "ws://127.0.0.1:9222/devtools/browser/abc")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser().RemoteURL)
	})
}
