package install

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// ensureArtifact makes sure the forwarder package exists on the host's
// temp area and returns its remote path. The fetch is idempotent: if a
// file with the expected name is already present it is reused without a
// second download. In local-package mode the file is pushed over SFTP
// instead of downloaded.
func (w *Workflow) ensureArtifact(ctx context.Context, sess Session, osType string, log *slog.Logger) (string, error) {
	switch strings.ToLower(osType) {
	case "linux", "unix":
	default:
		return "", fmt.Errorf("unsupported os type %q", osType)
	}

	name, err := w.packageName()
	if err != nil {
		return "", err
	}
	remotePath := "/tmp/" + name

	runCtx, cancel := context.WithTimeout(ctx, w.timeouts.Command.Duration)
	stdout, _, _, err := sess.RunCommand(runCtx, fmt.Sprintf("test -f %s && echo 'exists'", remotePath))
	cancel()
	if err == nil && strings.TrimSpace(string(stdout)) == "exists" {
		log.Info("package already present", "path", remotePath)
		return remotePath, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.timeouts.Download.Duration)
	defer cancel()

	if w.install.LocalPackage != "" {
		log.Info("uploading package", "from", w.install.LocalPackage, "to", remotePath)
		n, err := sess.PushFile(fetchCtx, w.install.LocalPackage, remotePath)
		if err != nil {
			return "", fmt.Errorf("upload failed: %v", err)
		}
		log.Info("upload complete", "path", remotePath, "bytes", n)
		return remotePath, nil
	}

	log.Info("downloading package", "url", w.install.DownloadURL)
	downloadCmd := fmt.Sprintf("cd /tmp && wget -q -O %s '%s' || curl -s -o %s '%s'",
		name, w.install.DownloadURL, name, w.install.DownloadURL)

	_, stderr, exitCode, err := sess.RunCommand(fetchCtx, downloadCmd)
	if err != nil {
		return "", fmt.Errorf("download failed: %v", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("download failed: %s", strings.TrimSpace(string(stderr)))
	}

	log.Info("download complete", "path", remotePath)
	return remotePath, nil
}

// packageName derives the artifact filename from the trailing path
// segment of the download URL, or from the local package path.
func (w *Workflow) packageName() (string, error) {
	if w.install.LocalPackage != "" {
		return filepath.Base(w.install.LocalPackage), nil
	}
	url := w.install.DownloadURL
	name := url[strings.LastIndex(url, "/")+1:]
	if name == "" {
		return "", fmt.Errorf("cannot derive package name from url %q", url)
	}
	return name, nil
}
