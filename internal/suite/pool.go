// internal/suite/pool.go

// Package suite runs a list of scenarios one after another. Each scenario
// gets its own browser session and runner, and the session is closed before
// the next scenario starts.
package suite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/scenario"
)

// Session is an open browser a runner can drive.
type Session interface {
	scenario.Driver
	Close() error
}

// Opener opens a browser session for one scenario.
type Opener func(ctx context.Context, b config.BrowserConfig, logger *zap.Logger) (Session, error)

// Task is one scenario file to run. Index is its position in the input.
type Task struct {
	Index int
	Path  string
}

// Result is the outcome of a task. Report is nil when the scenario never
// started, for instance when it failed to parse or the browser did not open.
type Result struct {
	Task   Task
	Report *scenario.Report
	Err    error
}

// Pool feeds scenario tasks to a single worker, so at most one browser
// session is open at a time.
type Pool struct {
	cfg        config.Interface
	logger     *zap.Logger
	open       Opener
	runnerOpts []scenario.Option

	// stateLock protects the running state.
	stateLock sync.Mutex
	isRunning bool
	group     *errgroup.Group
}

// New creates a Pool. Runner options are applied to every scenario runner.
func New(cfg config.Interface, logger *zap.Logger, open Opener, opts ...scenario.Option) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if open == nil {
		return nil, errors.New("session opener cannot be nil")
	}
	return &Pool{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "suite")),
		open:       open,
		runnerOpts: opts,
	}, nil
}

// Start launches the worker. It consumes tasks until the channel is closed
// or ctx is done.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, results chan<- Result) error {
	p.stateLock.Lock()
	defer p.stateLock.Unlock()
	if p.isRunning {
		return errors.New("suite is already running")
	}
	p.isRunning = true
	p.group = new(errgroup.Group)

	p.logger.Info("Starting scenario worker.")
	p.group.Go(func() error {
		return p.runWorker(ctx, tasks, results)
	})
	return nil
}

// Stop waits for the worker to exit. It returns ctx's error when the worker
// quit because the context passed to Start ended, and nil when the task
// channel was drained.
func (p *Pool) Stop() error {
	p.stateLock.Lock()
	g := p.group
	p.stateLock.Unlock()
	var err error
	if g != nil {
		err = g.Wait()
	}

	p.stateLock.Lock()
	p.isRunning = false
	p.group = nil
	p.stateLock.Unlock()
	p.logger.Debug("Scenario worker stopped.", zap.Error(err))
	return err
}

// Run executes every path and returns one result per path, in input order.
// Paths not started before ctx ended carry ctx's error.
func (p *Pool) Run(ctx context.Context, paths []string) ([]Result, error) {
	tasks := make(chan Task)
	results := make(chan Result, len(paths))
	if err := p.Start(ctx, tasks, results); err != nil {
		return nil, err
	}

feed:
	for i, path := range paths {
		select {
		case tasks <- Task{Index: i, Path: path}:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	cause := p.Stop()
	close(results)
	if cause == nil {
		cause = ctx.Err()
	}

	out := make([]Result, len(paths))
	done := make([]bool, len(paths))
	for r := range results {
		out[r.Task.Index] = r
		done[r.Task.Index] = true
	}
	for i := range out {
		if !done[i] {
			out[i] = Result{Task: Task{Index: i, Path: paths[i]}, Err: fmt.Errorf("%s not started: %w", paths[i], cause)}
		}
	}
	return out, nil
}

func (p *Pool) runWorker(ctx context.Context, tasks <-chan Task, results chan<- Result) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return ctx.Err()
		case task, ok := <-tasks:
			if !ok {
				return nil
			}
			results <- p.process(ctx, task, p.logger)
		}
	}
}

// process runs one scenario in a fresh session.
func (p *Pool) process(ctx context.Context, task Task, logger *zap.Logger) Result {
	res := Result{Task: task}
	logger = logger.With(zap.String("scenario_path", task.Path))

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%s not started: %w", task.Path, err)
		return res
	}
	sc, err := scenario.Load(task.Path)
	if err != nil {
		res.Err = err
		return res
	}

	timeout := p.cfg.Runner().ScenarioTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	browser := p.cfg.Browser()
	sess, err := p.open(runCtx, browser, logger)
	if err != nil {
		res.Err = fmt.Errorf("opening %s browser: %w", browser.Driver, err)
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("Error closing browser session.", zap.Error(err))
		}
	}()

	runner, err := scenario.NewRunner(sess, p.cfg, logger, p.runnerOpts...)
	if err != nil {
		res.Err = err
		return res
	}
	res.Report, res.Err = runner.Run(runCtx, sc)

	switch {
	case res.Err == nil:
	case errors.Is(res.Err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warn("Scenario timed out.", zap.Duration("timeout", timeout), zap.Error(res.Err))
	case errors.Is(res.Err, context.Canceled):
		logger.Warn("Scenario was cancelled.", zap.Error(res.Err))
	default:
		logger.Debug("Scenario failed.", zap.Error(res.Err))
	}
	return res
}
