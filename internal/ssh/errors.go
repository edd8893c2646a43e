package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError wraps an SSH connection error with a user-friendly hint.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError wraps an SSH connection error with a friendly hint.
// If the error doesn't match any known patterns, it's returned as-is.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	// SSH authentication failure.
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "check the password or key_file for this server entry",
		}
	}

	// Connection refused.
	if strings.Contains(msg, "connection refused") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "verify the SSH daemon is running and the port is correct",
		}
	}

	// DNS resolution failure.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "verify the hostname is correct",
		}
	}

	// Known hosts: missing file or entry.
	if strings.Contains(msg, "no known_hosts") || strings.Contains(msg, "knownhosts") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: fmt.Sprintf("use --insecure or connect once with: ssh %s", host),
		}
	}

	// Known hosts: key mismatch.
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: fmt.Sprintf("remove the old key with: ssh-keygen -R %s", host),
		}
	}

	return err
}
