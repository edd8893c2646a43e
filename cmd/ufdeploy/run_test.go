package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmorrisuk/ufdeploy/internal/install"
	"github.com/jmorrisuk/ufdeploy/internal/sshtest"
)

// chdir changes into dir for the duration of the test, restoring the
// previous working directory on cleanup (t.Chdir needs Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}

// writeRunConfig writes a config targeting the given test server into
// the current directory and returns its path.
func writeRunConfig(t *testing.T, host string, port int) string {
	t.Helper()
	cfg := fmt.Sprintf(`servers:
  - host: %s
    port: %d
    user: testuser
    password: secret
install:
  download_url: https://download.example.com/splunkforwarder-9.2.1.tgz
timeouts:
  connect: 5s
  command: 10s
  download: 10s
  install: 10s
`, host, port)

	path := "ufdeploy.yaml"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// A run where every host fails is still a completed run: the process
// reports the failures through the summary and the result file, not
// through its exit status.
func TestRun_HostFailuresReturnNil(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	addr, cleanup := sshtest.Start(t,
		sshtest.WithPassword("secret"),
		sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
			switch {
			case strings.HasPrefix(cmd, "test -d"):
				return "", "", 1
			case strings.HasPrefix(cmd, "free -m"):
				return "100\n", "", 0
			case strings.HasPrefix(cmd, "df -m"):
				return "10240\n", "", 0
			default:
				return "", "", 0
			}
		}),
	)
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	cfgPath := writeRunConfig(t, host, port)

	err := run(context.Background(), runOptions{configPath: cfgPath, insecure: true, noColor: true})
	if err != nil {
		t.Fatalf("host-level failures must not fail the process, got %v", err)
	}

	matches, err := filepath.Glob("install_results_*.json")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one result file, got %v (%v)", matches, err)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read result file: %v", err)
	}
	var results []install.HostResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("unmarshal result file: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Outcome != install.OutcomeFailed || results[0].Stage != install.StageResourceCheck {
		t.Errorf("expected a recorded resource-check failure, got %+v", results[0])
	}
}

func TestRun_ConfigLoadFailureReturnsError(t *testing.T) {
	chdir(t, t.TempDir())

	err := run(context.Background(), runOptions{configPath: "nope.yaml"})
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestRun_InvalidConfigReturnsError(t *testing.T) {
	chdir(t, t.TempDir())

	if err := os.WriteFile("ufdeploy.yaml", []byte("servers: []\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := run(context.Background(), runOptions{configPath: "ufdeploy.yaml"})
	if err == nil || !strings.Contains(err.Error(), "no servers") {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestRun_DryRunWritesNoResults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	cfgPath := writeRunConfig(t, "10.255.255.1", 22)

	err := run(context.Background(), runOptions{configPath: cfgPath, dryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	matches, _ := filepath.Glob("install_results_*.json")
	if len(matches) != 0 {
		t.Errorf("dry run must not write a result file, got %v", matches)
	}
}
