package install

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Remote introspection commands. These strings are the compatibility
// surface with the managed hosts and must not be reworded.
const (
	cmdCheckInstalled = "test -d /opt/splunkforwarder && echo 'exists'"
	cmdUptime         = "uptime"
	cmdFreeMemoryMB   = "free -m | grep Mem | awk '{print $7}'"
	cmdFreeDiskMB     = "df -m /opt | tail -1 | awk '{print $4}'"
)

// alreadyInstalled probes for the forwarder's installation root.
// A probe error counts as "not installed"; a wrong guess here only
// costs a reinstall attempt, which the package managers tolerate.
func (w *Workflow) alreadyInstalled(ctx context.Context, sess Session) bool {
	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
	defer cancel()

	stdout, _, _, err := sess.RunCommand(runCtx, cmdCheckInstalled)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(stdout)) == "exists"
}

// checkResources verifies the host has enough free memory and disk to
// install without disturbing whatever it is already running. It fails
// closed: a command error or unparseable metric rejects the host.
func (w *Workflow) checkResources(ctx context.Context, sess Session, log *slog.Logger) error {
	// Load average is not thresholded, but an unreadable host is still
	// rejected: every metric read must succeed.
	uptime, err := w.readMetric(ctx, sess, cmdUptime)
	if err != nil {
		return fmt.Errorf("reading system load: %w", err)
	}
	log.Info("system load", "uptime", uptime)

	availableMem, err := w.readMetricInt(ctx, sess, cmdFreeMemoryMB)
	if err != nil {
		return fmt.Errorf("reading available memory: %w", err)
	}
	availableDisk, err := w.readMetricInt(ctx, sess, cmdFreeDiskMB)
	if err != nil {
		return fmt.Errorf("reading available disk: %w", err)
	}

	log.Info("system resources", "available_mem_mb", availableMem, "available_disk_mb", availableDisk)

	if availableMem < w.limits.MinMemoryMB {
		return fmt.Errorf("insufficient memory: %dMB available, %dMB required", availableMem, w.limits.MinMemoryMB)
	}
	if availableDisk < w.limits.MinDiskMB {
		return fmt.Errorf("insufficient disk: %dMB available, %dMB required", availableDisk, w.limits.MinDiskMB)
	}

	return nil
}

// readMetric runs an introspection command and returns its trimmed
// stdout, treating a nonzero exit as a failure.
func (w *Workflow) readMetric(ctx context.Context, sess Session, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
	defer cancel()

	stdout, stderr, exitCode, err := sess.RunCommand(runCtx, command)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%q exited %d: %s", command, exitCode, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (w *Workflow) readMetricInt(ctx context.Context, sess Session, command string) (int, error) {
	out, err := w.readMetric(ctx, sess, command)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected output %q from %q", out, command)
	}
	return n, nil
}
