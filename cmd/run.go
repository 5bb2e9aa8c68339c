// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/cdp"
	"github.com/xkilldash9x/steady/internal/browser/pw"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/observability"
	"github.com/xkilldash9x/steady/internal/scenario"
	"github.com/xkilldash9x/steady/internal/suite"
)

// openSession opens the configured driver. Tests replace it.
var openSession suite.Opener = openDriver

func openDriver(ctx context.Context, b config.BrowserConfig, logger *zap.Logger) (suite.Session, error) {
	switch strings.ToLower(b.Driver) {
	case config.DriverPlaywright:
		s, err := pw.Open(ctx, pw.Options{
			Headless:          b.Headless,
			ExecPath:          b.ExecPath,
			RemoteURL:         b.RemoteURL,
			WindowWidth:       b.WindowWidth,
			WindowHeight:      b.WindowHeight,
			Args:              b.Args,
			SkipInstall:       b.SkipInstall,
			ActionTimeout:     b.ActionTimeout,
			MinActionInterval: b.MinActionInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := cdp.Open(ctx, cdp.Options{
			Headless:          b.Headless,
			ExecPath:          b.ExecPath,
			RemoteURL:         b.RemoteURL,
			UserDataDir:       b.UserDataDir,
			WindowWidth:       b.WindowWidth,
			WindowHeight:      b.WindowHeight,
			Args:              b.Args,
			ActionTimeout:     b.ActionTimeout,
			MinActionInterval: b.MinActionInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// newRunCmd creates the `run` command.
func newRunCmd() *cobra.Command {
	var (
		driver   string
		headless bool
		report   string
	)
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Runs scenarios against a browser and writes JSON reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			// Flags override the config file and environment.
			flags := cmd.Flags()
			if flags.Changed("driver") {
				cfg.SetBrowserDriver(strings.ToLower(driver))
				b := cfg.Browser()
				if err := b.Validate(); err != nil {
					return err
				}
			}
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if flags.Changed("report") {
				cfg.SetRunnerReportPath(report)
			}
			return runScenarios(cmd.Context(), cfg, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&driver, "driver", config.DriverCDP, "browser driver: cdp or playwright (overrides config/env)")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window (overrides config/env)")
	cmd.Flags().StringVarP(&report, "report", "o", "", "report file, - for stdout; a directory when several scenarios run (overrides config/env)")
	return cmd
}

// runScenarios runs every path, writes the reports and prints one summary
// line per scenario. Reports are written even for failed runs.
func runScenarios(ctx context.Context, cfg config.Interface, paths []string, out io.Writer) error {
	logger := observability.GetLogger()
	pool, err := suite.New(cfg, logger, openSession)
	if err != nil {
		return err
	}
	results, err := pool.Run(ctx, paths)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
		if r.Report == nil {
			fmt.Fprintf(out, "ERROR %s: %v\n", r.Task.Path, r.Err)
			continue
		}
		if p := reportPath(cfg.Runner().ReportPath, r, len(paths) > 1); p != "" {
			if err := r.Report.WriteFile(p); err != nil {
				errs = append(errs, fmt.Errorf("writing report: %w", err))
			} else if p != "-" && p != "stdout" {
				logger.Info("Report written.", zap.String("path", p))
			}
		}
		fmt.Fprintf(out, "%s %s: %d/%d steps, run %s\n",
			strings.ToUpper(r.Report.Status), r.Report.Scenario, completed(r.Report), r.Report.TotalSteps, r.Report.RunID)
	}
	return errors.Join(errs...)
}

// reportPath picks where a result's report goes. With several scenarios the
// configured path is a directory and each report is named after its file.
func reportPath(configured string, r suite.Result, many bool) string {
	if configured == "" || !many || configured == "-" || configured == "stdout" {
		return configured
	}
	base := strings.TrimSuffix(filepath.Base(r.Task.Path), filepath.Ext(r.Task.Path))
	return filepath.Join(configured, fmt.Sprintf("%02d-%s.json", r.Task.Index+1, base))
}

// completed counts the steps that did not fail.
func completed(r *scenario.Report) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status != scenario.StatusFailed {
			n++
		}
	}
	return n
}
