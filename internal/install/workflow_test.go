package install

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jmorrisuk/ufdeploy/internal/config"
)

// fakeSession records every command and answers via a handler func.
type fakeSession struct {
	mu       sync.Mutex
	handler  func(cmd string) (stdout, stderr string, exitCode int)
	commands []string
	pushed   []string
	pushErr  error
	closed   int
}

func (s *fakeSession) RunCommand(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	if s.handler == nil {
		return nil, nil, 0, nil
	}
	stdout, stderr, code := s.handler(cmd)
	return []byte(stdout), []byte(stderr), code, nil
}

func (s *fakeSession) PushFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	s.mu.Lock()
	s.pushed = append(s.pushed, remotePath)
	s.mu.Unlock()
	return 1024, s.pushErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) sawCommandContaining(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.commands {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	sess *fakeSession
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, srv config.Server) (Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

// happyHandler simulates a healthy, uninstalled host where every
// command succeeds.
func happyHandler(cmd string) (string, string, int) {
	switch {
	case strings.HasPrefix(cmd, "test -d"):
		return "", "", 1
	case strings.HasPrefix(cmd, "test -f"):
		return "", "", 1
	case strings.HasPrefix(cmd, "uptime"):
		return "10:00:00 up 3 days, load average: 0.10, 0.08, 0.05", "", 0
	case strings.HasPrefix(cmd, "free"):
		return "4096", "", 0
	case strings.HasPrefix(cmd, "df"):
		return "10240", "", 0
	default:
		return "", "", 0
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Servers = []config.Server{testServer()}
	cfg.Install.DownloadURL = "https://download.example.com/splunkforwarder-9.2.1.tgz"
	return cfg
}

func testServer() config.Server {
	return config.Server{Host: "host-a", Port: 22, User: "root", OSType: "linux"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runWorkflow(t *testing.T, cfg *config.Config, sess *fakeSession, srv config.Server) HostResult {
	t.Helper()
	w := NewWorkflow(&fakeDialer{sess: sess}, cfg, testLogger())
	res := w.Run(context.Background(), srv)

	if res.Host != srv.Host {
		t.Errorf("expected result host %q, got %q", srv.Host, res.Host)
	}
	if res.Timestamp.IsZero() {
		t.Error("result timestamp not set")
	}
	if sess.closed != 1 {
		t.Errorf("expected session closed exactly once, got %d", sess.closed)
	}
	return res
}

func TestWorkflow_Success(t *testing.T) {
	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if !sess.sawCommandContaining("wget -q -O splunkforwarder-9.2.1.tgz") {
		t.Error("expected download command")
	}
	if !sess.sawCommandContaining("cd /opt && tar xzf /tmp/splunkforwarder-9.2.1.tgz") {
		t.Error("expected tar install command")
	}
	if !sess.sawCommandContaining("rm -f /tmp/splunkforwarder-9.2.1.tgz") {
		t.Error("expected cleanup command (cleanup_after_install defaults to true)")
	}
}

func TestWorkflow_SkipsAlreadyInstalled(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "test -d") {
			return "exists", "", 0
		}
		return "", "", 0
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s (%s)", res.Outcome, res.Message)
	}
	if len(sess.commands) != 1 {
		t.Errorf("expected only the install probe, got commands: %v", sess.commands)
	}
}

func TestWorkflow_ForceReinstallProceeds(t *testing.T) {
	cfg := testConfig()
	cfg.Install.ForceReinstall = true

	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "test -d") {
			return "exists", "", 0
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if !sess.sawCommandContaining("wget") {
		t.Error("expected download despite existing install")
	}
}

func TestWorkflow_InsufficientMemory(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "free") {
			return "100", "", 0
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageResourceCheck {
		t.Fatalf("expected failed at resource-check, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "insufficient memory: 100MB available, 512MB required") {
		t.Errorf("unexpected message: %q", res.Message)
	}
	if sess.sawCommandContaining("wget") || sess.sawCommandContaining("tar xzf") {
		t.Error("no fetch or install command may run after a resource failure")
	}
}

func TestWorkflow_InsufficientDisk(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "df") {
			return "512", "", 0
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageResourceCheck {
		t.Fatalf("expected failed at resource-check, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "insufficient disk") {
		t.Errorf("unexpected message: %q", res.Message)
	}
}

func TestWorkflow_ResourceCheckFailsClosedOnGarbage(t *testing.T) {
	// Unparseable metric output must reject the host, never proceed.
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "free") {
			return "command output mangled by motd", "", 0
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageResourceCheck {
		t.Fatalf("expected failed at resource-check, got %s at %q", res.Outcome, res.Stage)
	}
	if sess.sawCommandContaining("wget") {
		t.Error("no fetch command may run on an unreadable metric")
	}
}

func TestWorkflow_UptimeReadErrorFailsResourceCheck(t *testing.T) {
	// The resource check fails closed on every metric read, including
	// the informational load read.
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "uptime") {
			return "", "uptime: command not found", 127
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageResourceCheck {
		t.Fatalf("expected failed at resource-check, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "reading system load") {
		t.Errorf("unexpected message: %q", res.Message)
	}
	if sess.sawCommandContaining("wget") {
		t.Error("no fetch command may run after an unreadable load metric")
	}
}

func TestWorkflow_StageProgressLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	sess := &fakeSession{handler: happyHandler}
	w := NewWorkflow(&fakeDialer{sess: sess}, testConfig(), logger)
	res := w.Run(context.Background(), testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}

	out := buf.String()
	for _, stage := range []Stage{
		StageConnect, StageCheckInstalled, StageResourceCheck,
		StageFetch, StageInstall, StageConfigure, StageCleanup,
	} {
		if !strings.Contains(out, "stage="+string(stage)) {
			t.Errorf("expected a progress line for stage %q in:\n%s", stage, out)
		}
	}
}

func TestWorkflow_FetchIdempotent(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.HasPrefix(cmd, "test -f") {
			return "exists", "", 0
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if sess.sawCommandContaining("wget") || sess.sawCommandContaining("curl") {
		t.Error("download must not run when the package is already present")
	}
	if !sess.sawCommandContaining("tar xzf") {
		t.Error("install should still run against the existing package")
	}
}

func TestWorkflow_DownloadFailurePropagatesStderr(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if strings.Contains(cmd, "wget") {
			return "", "wget: unable to resolve host: host unreachable", 4
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageFetch {
		t.Fatalf("expected failed at fetch, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "host unreachable") {
		t.Errorf("expected captured stderr in message, got %q", res.Message)
	}
	if sess.sawCommandContaining("tar xzf") {
		t.Error("install must not run after a failed download")
	}
}

func TestWorkflow_UnsupportedPackageFormat(t *testing.T) {
	cfg := testConfig()
	cfg.Install.DownloadURL = "https://download.example.com/splunkforwarder-9.2.1.zip"

	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageInstall {
		t.Fatalf("expected failed at install, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "unsupported package format") {
		t.Errorf("unexpected message: %q", res.Message)
	}
	for _, fragment := range []string{"tar xzf", "rpm -ivh", "dpkg -i"} {
		if sess.sawCommandContaining(fragment) {
			t.Errorf("no install command may run for an unrecognized extension, saw %q", fragment)
		}
	}
}

func TestWorkflow_UnsupportedOSType(t *testing.T) {
	srv := testServer()
	srv.OSType = "windows"

	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, testConfig(), sess, srv)

	if res.Outcome != OutcomeFailed || res.Stage != StageFetch {
		t.Fatalf("expected failed at fetch, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, `unsupported os type "windows"`) {
		t.Errorf("unexpected message: %q", res.Message)
	}
	if sess.sawCommandContaining("wget") || sess.sawCommandContaining("test -f") {
		t.Error("no fetch work may happen for an unsupported OS")
	}
}

func TestWorkflow_ConfigureStartFailure(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if cmd == "/opt/splunkforwarder/bin/splunk start" {
			return "", "Splunk failed to start: port 8089 in use", 1
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageConfigure {
		t.Fatalf("expected failed at configure, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "port 8089 in use") {
		t.Errorf("expected captured stderr in message, got %q", res.Message)
	}
	if sess.sawCommandContaining("rm -f") {
		t.Error("cleanup must not run after a configure failure")
	}
}

func TestWorkflow_IntermediateConfigureStepsAreBestEffort(t *testing.T) {
	sess := &fakeSession{handler: func(cmd string) (string, string, int) {
		if cmd == "/opt/splunkforwarder/bin/splunk stop" {
			return "", "splunkd is not running", 1
		}
		return happyHandler(cmd)
	}}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("a nonzero stop must not fail the host, got %s (%s)", res.Outcome, res.Message)
	}
}

func TestWorkflow_ConfigureStepsConditionalAndOrdered(t *testing.T) {
	cfg := testConfig()
	cfg.Splunk.DeploymentServer = "deploy.example.com:8089"
	cfg.Splunk.ReceivingIndexer = "indexer.example.com:9997"
	cfg.Splunk.AdminPassword = "s3cret"

	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}

	var order []string
	for _, cmd := range sess.commands {
		if strings.HasPrefix(cmd, splunkBin) {
			order = append(order, cmd)
		}
	}
	want := []string{
		splunkBin + " start --accept-license --answer-yes --no-prompt",
		splunkBin + " stop",
		splunkBin + " set deploy-poll deploy.example.com:8089 -auth admin:s3cret",
		splunkBin + " add forward-server indexer.example.com:9997 -auth admin:s3cret",
		splunkBin + " enable boot-start",
		splunkBin + " start",
	}
	if len(order) != len(want) {
		t.Fatalf("expected %d splunk commands, got %d: %v", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("splunk command %d: expected %q, got %q", i, want[i], order[i])
		}
	}
}

func TestWorkflow_ConfigureOmitsUnsetAddresses(t *testing.T) {
	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, testConfig(), sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if sess.sawCommandContaining("deploy-poll") || sess.sawCommandContaining("forward-server") {
		t.Error("deploy-poll/forward-server must not run when unconfigured")
	}
}

func TestWorkflow_CleanupDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Install.CleanupAfterInstall = false

	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if sess.sawCommandContaining("rm -f") {
		t.Error("cleanup must not run when cleanup_after_install is false")
	}
}

func TestWorkflow_LocalPackagePush(t *testing.T) {
	cfg := testConfig()
	cfg.Install.DownloadURL = ""
	cfg.Install.LocalPackage = "/srv/packages/splunkforwarder-9.2.1.tgz"

	sess := &fakeSession{handler: happyHandler}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", res.Outcome, res.Message)
	}
	if len(sess.pushed) != 1 || sess.pushed[0] != "/tmp/splunkforwarder-9.2.1.tgz" {
		t.Errorf("expected one push to /tmp/splunkforwarder-9.2.1.tgz, got %v", sess.pushed)
	}
	if sess.sawCommandContaining("wget") {
		t.Error("download must not run in local-package mode")
	}
}

func TestWorkflow_LocalPackagePushFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Install.DownloadURL = ""
	cfg.Install.LocalPackage = "/srv/packages/splunkforwarder-9.2.1.tgz"

	sess := &fakeSession{handler: happyHandler, pushErr: fmt.Errorf("connection reset")}
	res := runWorkflow(t, cfg, sess, testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageFetch {
		t.Fatalf("expected failed at fetch, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "connection reset") {
		t.Errorf("unexpected message: %q", res.Message)
	}
}

func TestWorkflow_ConnectFailure(t *testing.T) {
	sess := &fakeSession{}
	w := NewWorkflow(&fakeDialer{sess: sess, err: fmt.Errorf("dial tcp: connection refused")}, testConfig(), testLogger())
	res := w.Run(context.Background(), testServer())

	if res.Outcome != OutcomeFailed || res.Stage != StageConnect {
		t.Fatalf("expected failed at connect, got %s at %q", res.Outcome, res.Stage)
	}
	if !strings.Contains(res.Message, "connection refused") {
		t.Errorf("unexpected message: %q", res.Message)
	}
	if sess.closed != 0 {
		t.Error("no session to close on connect failure")
	}
	if len(sess.commands) != 0 {
		t.Errorf("no commands may run on connect failure, got %v", sess.commands)
	}
}

func TestInstallCommand(t *testing.T) {
	tests := []struct {
		pkgPath string
		want    string
		wantErr bool
	}{
		{"/tmp/uf.tgz", "cd /opt && tar xzf /tmp/uf.tgz", false},
		{"/tmp/uf.tar.gz", "cd /opt && tar xzf /tmp/uf.tar.gz", false},
		{"/tmp/uf.rpm", "rpm -ivh /tmp/uf.rpm", false},
		{"/tmp/uf.deb", "dpkg -i /tmp/uf.deb", false},
		{"/tmp/uf.zip", "", true},
		{"/tmp/uf", "", true},
	}
	for _, tt := range tests {
		got, err := installCommand(tt.pkgPath)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.pkgPath)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.pkgPath, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.pkgPath, tt.want, got)
		}
	}
}
