// Package ssh provides the remote-session transport: a context-aware
// client that dials one host, runs commands, pushes files over SFTP,
// and is closed deterministically when the caller is done.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialConfig holds the connection details for a single host.
type DialConfig struct {
	// Addr is the "host:port" to dial.
	Addr string

	// User is the SSH username.
	User string

	// Password authenticates with the given password. Optional.
	Password string

	// KeyFile is the path to a private key file. Optional.
	KeyFile string

	// InsecureHostKey skips known_hosts verification when set.
	InsecureHostKey bool
}

// Client wraps an SSH connection to a single host.
type Client struct {
	addr      string
	sshClient *ssh.Client
}

// Dial connects to the configured address. Auth methods are tried in
// order: SSH agent, explicit key file, password. Both the TCP dial and
// the SSH handshake respect context cancellation.
func Dial(ctx context.Context, conf DialConfig) (*Client, error) {
	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            conf.User,
		Auth:            buildAuthMethods(conf),
		HostKeyCallback: hostKeyCallback,
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", conf.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", conf.Addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, conf.Addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", conf.Addr, err)
	}

	return &Client{
		addr:      conf.Addr,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// RunCommand executes a command on the connected host and returns
// stdout, stderr, exit code, and any transport error. A nonzero remote
// exit status is not an error; it is reported through exitCode.
func (c *Client) RunCommand(ctx context.Context, command string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf safeBuffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Signal the session to close, which will cause Run to return.
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, nil, -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			return outBuf.Bytes(), errBuf.Bytes(), -1, err
		}
		return outBuf.Bytes(), errBuf.Bytes(), 0, nil
	}
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	if c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

// Addr returns the address this client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// buildAuthMethods constructs the ordered auth chain for a host.
func buildAuthMethods(conf DialConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	// 1. SSH agent.
	if agentAuth := agentAuthMethod(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	// 2. Explicit key file.
	if conf.KeyFile != "" {
		if signer := loadKeySigner(conf.KeyFile); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	// 3. Password from the host descriptor.
	if conf.Password != "" {
		methods = append(methods, ssh.Password(conf.Password))
	}

	return methods
}

// sharedAgent holds a lazily-initialized, process-wide SSH agent connection.
// Uses a mutex instead of sync.Once so a failed dial can be retried.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared SSH agent connection, if any.
// This is a no-op if no agent connection has been established.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}
}

// agentAuthMethod returns an auth method using the SSH agent, or nil
// if the agent is unavailable or has no keys.
func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	// If we have an existing client, check its health.
	if sharedAgent.client != nil {
		if keys, err := sharedAgent.client.List(); err == nil {
			if len(keys) > 0 {
				return ssh.PublicKeysCallback(sharedAgent.client.Signers)
			}
			return nil
		}
		// Stale connection — close and retry.
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf DialConfig) (ssh.HostKeyCallback, error) {
	if conf.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	knownHostsPath := home + "/.ssh/known_hosts"
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}

// safeBuffer is a goroutine-safe bytes buffer used for capturing
// stdout/stderr from SSH sessions.
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
