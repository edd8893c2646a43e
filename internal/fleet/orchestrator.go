// Package fleet fans the per-host installation workflow out across all
// configured servers under a fixed concurrency cap and collects results
// as they complete.
package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmorrisuk/ufdeploy/internal/config"
	"github.com/jmorrisuk/ufdeploy/internal/install"
)

// WorkflowRunner is the per-host pipeline the orchestrator dispatches.
type WorkflowRunner interface {
	Run(ctx context.Context, srv config.Server) install.HostResult
}

// Orchestrator runs one workflow per server with bounded concurrency.
// Hosts are independent: a failure on one never cancels another, and a
// skip or failure releases its slot exactly like a success.
type Orchestrator struct {
	workflow    WorkflowRunner
	logger      *slog.Logger
	concurrency int
	delay       time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the maximum number of in-flight workflows.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDelay sets a pause a completion slot observes before freeing,
// throttling steady-state dispatch without reducing the pool width.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.delay = d
		}
	}
}

// New creates an Orchestrator with the given workflow and options.
func New(workflow WorkflowRunner, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workflow:    workflow,
		logger:      logger,
		concurrency: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run dispatches one workflow per server and returns all results in
// completion order. Every server yields exactly one result; workflow
// failures are carried in the results, never returned as an error.
func (o *Orchestrator) Run(ctx context.Context, servers []config.Server) []install.HostResult {
	o.logger.Info("starting run",
		"hosts", len(servers),
		"concurrency", o.concurrency,
		"delay_between_hosts", o.delay.String())

	var (
		mu      sync.Mutex
		results = make([]install.HostResult, 0, len(servers))
	)

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			res := o.workflow.Run(ctx, srv)

			// Append immediately so partial progress is observable
			// even if the process is interrupted mid-run.
			mu.Lock()
			results = append(results, res)
			done := len(results)
			mu.Unlock()

			o.logger.Info("progress", "completed", done, "total", len(servers))

			// Hold the slot for the configured delay before the next
			// dispatch can take it.
			if o.delay > 0 {
				select {
				case <-time.After(o.delay):
				case <-ctx.Done():
				}
			}
			return nil
		})
	}

	g.Wait()
	return results
}

// DryRun lists the intended targets without dispatching any workflow.
func (o *Orchestrator) DryRun(servers []config.Server) {
	o.logger.Info("dry run: no installation will be performed")
	for _, srv := range servers {
		o.logger.Info("would process", "host", srv.Host, "port", srv.Port, "user", srv.User, "os_type", srv.OSType)
	}
}
