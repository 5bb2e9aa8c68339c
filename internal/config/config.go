// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/steady/internal/engine"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Passcode() PasscodeConfig
	Runner() RunnerConfig

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)

	// Runner Setters
	SetRunnerReportPath(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	PasscodeCfg PasscodeConfig `mapstructure:"passcode" yaml:"passcode"`
	RunnerCfg   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Passcode() PasscodeConfig { return c.PasscodeCfg }
func (c *Config) Runner() RunnerConfig     { return c.RunnerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserDriver(d string)    { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetRunnerReportPath(p string) { c.RunnerCfg.ReportPath = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Supported browser drivers.
const (
	DriverCDP        = "cdp"
	DriverPlaywright = "playwright"
)

// BrowserConfig selects and configures the port adapter.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	MinActionInterval time.Duration `mapstructure:"min_action_interval" yaml:"min_action_interval"`
	// SkipInstall only applies to the playwright driver.
	SkipInstall bool `mapstructure:"skip_install" yaml:"skip_install"`
}

// LocatorConfig tunes candidate resolution.
type LocatorConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// PriorityWindow is how long a lower priority match is held while a
	// better candidate may still appear. Negative, the default, holds it
	// until Timeout.
	PriorityWindow time.Duration `mapstructure:"priority_window" yaml:"priority_window"`
}

// StabilityConfig tunes the geometry poller.
type StabilityConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	RunLength int           `mapstructure:"run_length" yaml:"run_length"`
	Tolerance float64       `mapstructure:"tolerance" yaml:"tolerance"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ContextConfig tunes nested document resolution.
type ContextConfig struct {
	Wait     time.Duration `mapstructure:"wait" yaml:"wait"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// EngineConfig configures the interaction engine components.
type EngineConfig struct {
	Locator   LocatorConfig   `mapstructure:"locator" yaml:"locator"`
	Stability StabilityConfig `mapstructure:"stability" yaml:"stability"`
	Context   ContextConfig   `mapstructure:"context" yaml:"context"`
}

// LocatorSettings converts the section into the locator's own config.
func (e EngineConfig) LocatorSettings() engine.LocatorConfig {
	return engine.LocatorConfig{
		Timeout:        e.Locator.Timeout,
		Interval:       e.Locator.Interval,
		PriorityWindow: e.Locator.PriorityWindow,
	}
}

// StabilitySettings converts the section into poller defaults.
func (e EngineConfig) StabilitySettings() engine.StabilityOptions {
	return engine.StabilityOptions{
		Interval:  e.Stability.Interval,
		RunLength: e.Stability.RunLength,
		Tolerance: engine.UniformTolerance(e.Stability.Tolerance),
		Timeout:   e.Stability.Timeout,
	}
}

// PasscodeConfig configures TOTP generation and the retry controller.
type PasscodeConfig struct {
	Digits        int           `mapstructure:"digits" yaml:"digits"`
	Period        time.Duration `mapstructure:"period" yaml:"period"`
	Algorithm     string        `mapstructure:"algorithm" yaml:"algorithm"`
	RejectionWait time.Duration `mapstructure:"rejection_wait" yaml:"rejection_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// SecretEnv names the variable read when a step does not name its own.
	SecretEnv string `mapstructure:"secret_env" yaml:"secret_env"`
}

// ControllerSettings converts the section into the controller's config.
func (p PasscodeConfig) ControllerSettings() engine.PasscodeConfig {
	return engine.PasscodeConfig{RejectionWait: p.RejectionWait, PollInterval: p.PollInterval}
}

// RunnerConfig configures scenario execution and reporting.
type RunnerConfig struct {
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotDir       string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	ScreenshotOnFailure bool          `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	// ReportPath is where the JSON run report is written; empty disables it.
	ReportPath string `mapstructure:"report_path" yaml:"report_path"`
	// ScenarioTimeout bounds one scenario, browser start included.
	ScenarioTimeout time.Duration `mapstructure:"scenario_timeout" yaml:"scenario_timeout"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "steady")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.driver", DriverCDP)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.min_action_interval", "0s")
	v.SetDefault("browser.skip_install", false)

	// -- Engine --
	v.SetDefault("engine.locator.timeout", "10s")
	v.SetDefault("engine.locator.interval", "100ms")
	v.SetDefault("engine.locator.priority_window", "-1s")
	v.SetDefault("engine.stability.interval", "300ms")
	v.SetDefault("engine.stability.run_length", 3)
	v.SetDefault("engine.stability.tolerance", 1.0)
	v.SetDefault("engine.stability.timeout", "6s")
	v.SetDefault("engine.context.wait", "15s")
	v.SetDefault("engine.context.interval", "250ms")

	// -- Passcode --
	v.SetDefault("passcode.digits", 6)
	v.SetDefault("passcode.period", "30s")
	v.SetDefault("passcode.algorithm", "SHA1")
	v.SetDefault("passcode.rejection_wait", "4s")
	v.SetDefault("passcode.poll_interval", "250ms")
	v.SetDefault("passcode.secret_env", "STEADY_TOTP_SECRET")

	// -- Runner --
	v.SetDefault("runner.navigation_timeout", "30s")
	v.SetDefault("runner.screenshot_dir", "screenshots")
	v.SetDefault("runner.screenshot_on_failure", true)
	v.SetDefault("runner.report_path", "")
	v.SetDefault("runner.scenario_timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Attaching to an existing browser is common enough in CI to deserve a
	// dedicated variable.
	_ = v.BindEnv("browser.remote_url", "STEADY_BROWSER_REMOTE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.PasscodeCfg.Validate(); err != nil {
		return fmt.Errorf("passcode configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser section.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.Driver) {
	case DriverCDP, DriverPlaywright:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverCDP, DriverPlaywright, b.Driver)
	}
	if b.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if b.MinActionInterval < 0 {
		return fmt.Errorf("min_action_interval must not be negative")
	}
	return nil
}

// Validate checks the engine section.
func (e *EngineConfig) Validate() error {
	if e.Locator.Timeout <= 0 || e.Locator.Interval <= 0 {
		return fmt.Errorf("locator.timeout and locator.interval must be positive durations")
	}
	if e.Locator.Interval > e.Locator.Timeout {
		return fmt.Errorf("locator.interval must not exceed locator.timeout")
	}
	if e.Stability.RunLength < 1 {
		return fmt.Errorf("stability.run_length must be at least 1")
	}
	if e.Stability.Interval <= 0 || e.Stability.Timeout <= 0 {
		return fmt.Errorf("stability.interval and stability.timeout must be positive durations")
	}
	if e.Stability.Tolerance < 0 {
		return fmt.Errorf("stability.tolerance must not be negative")
	}
	if e.Context.Wait < 0 || e.Context.Interval <= 0 {
		return fmt.Errorf("context.wait must not be negative and context.interval must be positive")
	}
	return nil
}

// Validate checks the passcode section.
func (p *PasscodeConfig) Validate() error {
	if p.Digits != 6 && p.Digits != 8 {
		return fmt.Errorf("digits must be 6 or 8")
	}
	if p.Period < time.Second || p.Period%time.Second != 0 {
		return fmt.Errorf("period must be a whole number of seconds")
	}
	if p.RejectionWait <= 0 {
		return fmt.Errorf("rejection_wait must be a positive duration")
	}
	return nil
}
