package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/jmorrisuk/ufdeploy/internal/config"
	"github.com/jmorrisuk/ufdeploy/internal/fleet"
	"github.com/jmorrisuk/ufdeploy/internal/install"
	"github.com/jmorrisuk/ufdeploy/internal/report"
	"github.com/jmorrisuk/ufdeploy/internal/ssh"
)

type runOptions struct {
	configPath string
	dryRun     bool
	insecure   bool
	noColor    bool
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if err := resolveAdminPassword(cfg); err != nil {
		return err
	}

	servers := config.ResolveServers(cfg)
	start := time.Now()

	logFile, err := os.Create(report.LogFileName(start))
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, logFile), nil))
	logger.Info("ufdeploy starting", "config", opts.configPath, "hosts", len(servers))

	workflow := install.NewWorkflow(&ssh.Dialer{InsecureHostKey: opts.insecure}, cfg, logger)
	orch := fleet.New(workflow, logger,
		fleet.WithConcurrency(cfg.Concurrency),
		fleet.WithDelay(cfg.DelayBetweenHosts.Duration),
	)

	if opts.dryRun {
		orch.DryRun(servers)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	defer ssh.CloseAgent()

	results := orch.Run(ctx, servers)
	summary := report.Summarize(results)

	resultPath := report.ResultsFileName(start)
	if err := report.WriteResults(resultPath, results); err != nil {
		return err
	}

	// Host-level failures are a reported outcome, not a process failure:
	// the run executed, so we exit 0 and let the summary carry the news.
	renderer := &report.Renderer{Color: !opts.noColor && term.IsTerminal(int(os.Stdout.Fd()))}
	renderer.Render(os.Stdout, summary, resultPath)
	return nil
}

// resolveAdminPassword enforces the explicit-credential rule: when a
// configure step will authenticate against splunkd and no password is
// configured, prompt for one rather than falling back to any default.
func resolveAdminPassword(cfg *config.Config) error {
	if err := cfg.ValidateAdminCredential(); err == nil {
		return nil
	} else if !term.IsTerminal(int(os.Stdin.Fd())) {
		return err
	}

	fmt.Fprintf(os.Stderr, "Splunk admin password for user %q: ", cfg.Splunk.AdminUser)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read admin password: %w", err)
	}

	cfg.Splunk.AdminPassword = strings.TrimSpace(string(pw))
	return cfg.ValidateAdminCredential()
}
