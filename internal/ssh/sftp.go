package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// PushFile uploads a local file to a remote path via SFTP. It computes
// a SHA-256 checksum during transfer and verifies it by reading the
// remote file back on the same SFTP session, so a truncated upload is
// caught before the package is handed to the installer.
func (c *Client) PushFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer localFile.Close()

	sftpClient, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	// Ensure remote directory exists. Use path (not filepath) because
	// remotePath is always a Unix path on the remote host.
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := sftpClient.MkdirAll(remoteDir); err != nil {
			return 0, fmt.Errorf("create remote dir %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote file: %w", err)
	}

	hasher := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(remoteFile, hasher), localFile)
	// Close the remote file to flush writes before checksum verification.
	remoteFile.Close()
	if err != nil {
		return written, fmt.Errorf("copy: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))
	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return written, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return written, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}

	return written, nil
}

// remoteSHA256 computes the SHA-256 checksum of a remote file by reading
// it back over SFTP. This doesn't require sha256sum to be installed on
// the remote host.
func remoteSHA256(sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote file for checksum: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("read remote file for checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// copyWithContext copies from src to dst, checking for context
// cancellation between buffered chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
