package install

import (
	"context"
	"fmt"
	"strings"
)

// installCommand selects the package-format command for the artifact.
// An unrecognized extension is an immediate error; no command runs.
func installCommand(pkgPath string) (string, error) {
	switch {
	case strings.HasSuffix(pkgPath, ".tgz"), strings.HasSuffix(pkgPath, ".tar.gz"):
		return fmt.Sprintf("cd /opt && tar xzf %s", pkgPath), nil
	case strings.HasSuffix(pkgPath, ".rpm"):
		return fmt.Sprintf("rpm -ivh %s", pkgPath), nil
	case strings.HasSuffix(pkgPath, ".deb"):
		return fmt.Sprintf("dpkg -i %s", pkgPath), nil
	default:
		return "", fmt.Errorf("unsupported package format: %s", pkgPath)
	}
}

// installPackage installs the forwarder from the fetched artifact,
// dispatching on file extension to one of the three supported formats.
func (w *Workflow) installPackage(ctx context.Context, sess Session, pkgPath string) error {
	command, err := installCommand(pkgPath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Install.Duration)
	defer cancel()

	_, stderr, exitCode, err := sess.RunCommand(runCtx, command)
	if err != nil {
		return fmt.Errorf("install failed: %v", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("install failed: %s", strings.TrimSpace(string(stderr)))
	}
	return nil
}
