package install

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const splunkBin = "/opt/splunkforwarder/bin/splunk"

// configStep pairs a remote command with a loggable name, so commands
// carrying the admin credential never reach the log stream.
type configStep struct {
	name    string
	command string
}

// configure applies the fixed post-install sequence. All steps before
// the final start are best-effort (splunk's own commands are idempotent
// and report noise on re-runs) but must execute in order, because later
// steps depend on earlier ones having been attempted. Only the final
// start's exit status decides success.
func (w *Workflow) configure(ctx context.Context, sess Session, log *slog.Logger) error {
	auth := w.splunk.AdminUser + ":" + w.splunk.AdminPassword

	steps := []configStep{
		{"accept-license", splunkBin + " start --accept-license --answer-yes --no-prompt"},
		{"stop", splunkBin + " stop"},
	}
	if w.splunk.DeploymentServer != "" {
		steps = append(steps, configStep{
			"set-deploy-poll",
			fmt.Sprintf("%s set deploy-poll %s -auth %s", splunkBin, w.splunk.DeploymentServer, auth),
		})
	}
	if w.splunk.ReceivingIndexer != "" {
		steps = append(steps, configStep{
			"add-forward-server",
			fmt.Sprintf("%s add forward-server %s -auth %s", splunkBin, w.splunk.ReceivingIndexer, auth),
		})
	}
	steps = append(steps, configStep{"enable-boot-start", splunkBin + " enable boot-start"})

	for _, step := range steps {
		log.Info("configure step", "step", step.name)
		runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
		_, _, exitCode, err := sess.RunCommand(runCtx, step.command)
		cancel()
		if err != nil {
			log.Warn("configure step error", "step", step.name, "error", err)
		} else if exitCode != 0 {
			log.Warn("configure step exited nonzero", "step", step.name, "exit_code", exitCode)
		}
	}

	// Final start is the authoritative success signal.
	log.Info("configure step", "step", "start")
	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
	defer cancel()
	_, stderr, exitCode, err := sess.RunCommand(runCtx, splunkBin+" start")
	if err != nil {
		return fmt.Errorf("splunk start failed: %v", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("splunk start failed: %s", strings.TrimSpace(string(stderr)))
	}
	return nil
}
