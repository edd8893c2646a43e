// Package install implements the per-host installation pipeline: a
// short-circuiting sequence of guarded steps that takes a bare host to
// a configured, running forwarder and reports exactly one result.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmorrisuk/ufdeploy/internal/config"
)

// Session is the remote-shell capability the workflow needs from the
// transport layer. A nonzero exitCode is not an error; err reports
// transport failures (including command timeouts) only.
type Session interface {
	RunCommand(ctx context.Context, command string) (stdout, stderr []byte, exitCode int, err error)
	PushFile(ctx context.Context, localPath, remotePath string) (int64, error)
	Close() error
}

// Dialer opens an authenticated session to one server.
type Dialer interface {
	Dial(ctx context.Context, srv config.Server) (Session, error)
}

// Workflow runs the installation pipeline on a single host:
// connect, check-installed, resource-check, fetch, install, configure,
// cleanup. Any step failure short-circuits the remaining steps.
type Workflow struct {
	dialer   Dialer
	limits   config.ResourceLimits
	install  config.Install
	splunk   config.Splunk
	timeouts config.Timeouts
	logger   *slog.Logger
}

// NewWorkflow creates a Workflow from the run configuration.
func NewWorkflow(dialer Dialer, cfg *config.Config, logger *slog.Logger) *Workflow {
	return &Workflow{
		dialer:   dialer,
		limits:   cfg.ResourceLimits,
		install:  cfg.Install,
		splunk:   cfg.Splunk,
		timeouts: cfg.Timeouts,
		logger:   logger,
	}
}

// Run executes the pipeline for one server and always returns a result:
// step failures are converted into a failed HostResult, never escalated.
// The session, once opened, is closed on every exit path.
func (w *Workflow) Run(ctx context.Context, srv config.Server) HostResult {
	log := w.logger.With("host", srv.Host)
	start := time.Now()

	res := w.run(ctx, srv, log)

	res.Timestamp = time.Now()
	res.DurationMS = time.Since(start).Milliseconds()

	switch res.Outcome {
	case OutcomeSucceeded:
		log.Info("host done", "outcome", res.Outcome.String(), "message", res.Message)
	case OutcomeSkipped:
		log.Info("host skipped", "message", res.Message)
	default:
		log.Error("host failed", "stage", string(res.Stage), "message", res.Message)
	}
	return res
}

func (w *Workflow) run(ctx context.Context, srv config.Server, log *slog.Logger) HostResult {
	log.Info("connecting", "stage", string(StageConnect), "port", srv.Port, "user", srv.User)
	connectCtx, cancel := context.WithTimeout(ctx, w.timeouts.Connect.Duration)
	sess, err := w.dialer.Dial(connectCtx, srv)
	cancel()
	if err != nil {
		return failed(srv.Host, StageConnect, fmt.Sprintf("connect failed: %v", err))
	}
	defer sess.Close()

	log.Info("checking install state", "stage", string(StageCheckInstalled))
	if w.alreadyInstalled(ctx, sess) {
		if !w.install.ForceReinstall {
			return skipped(srv.Host, "already installed")
		}
		log.Info("already installed, reinstalling (force_reinstall set)")
	}

	log.Info("checking system resources", "stage", string(StageResourceCheck))
	if err := w.checkResources(ctx, sess, log); err != nil {
		return failed(srv.Host, StageResourceCheck, err.Error())
	}

	log.Info("fetching package", "stage", string(StageFetch))
	pkgPath, err := w.ensureArtifact(ctx, sess, srv.OSType, log)
	if err != nil {
		return failed(srv.Host, StageFetch, err.Error())
	}

	log.Info("installing package", "stage", string(StageInstall), "path", pkgPath)
	if err := w.installPackage(ctx, sess, pkgPath); err != nil {
		return failed(srv.Host, StageInstall, err.Error())
	}

	log.Info("configuring forwarder", "stage", string(StageConfigure))
	if err := w.configure(ctx, sess, log); err != nil {
		return failed(srv.Host, StageConfigure, err.Error())
	}

	w.cleanupArtifact(ctx, sess, pkgPath, log)

	return succeeded(srv.Host, "installed and configured")
}

// cleanupArtifact removes the downloaded package, gated by config.
// Failures are logged and never change the host's outcome.
func (w *Workflow) cleanupArtifact(ctx context.Context, sess Session, pkgPath string, log *slog.Logger) {
	if !w.install.CleanupAfterInstall {
		return
	}
	log.Info("cleaning up package", "stage", string(StageCleanup), "path", pkgPath)
	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
	defer cancel()
	if _, _, _, err := sess.RunCommand(runCtx, "rm -f "+pkgPath); err != nil {
		log.Warn("cleanup failed", "stage", string(StageCleanup), "path", pkgPath, "error", err)
	}
}
