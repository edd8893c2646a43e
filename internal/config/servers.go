package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// ResolveServers fills in the gaps in each server descriptor: missing
// fields are taken from ~/.ssh/config where available, then from
// conventional defaults (port 22, $USER then root, os_type linux).
// The returned slice is a resolved copy; the config itself is not mutated.
func ResolveServers(cfg *Config) []Server {
	resolved := make([]Server, len(cfg.Servers))
	for i, srv := range cfg.Servers {
		resolved[i] = resolveServer(srv)
	}
	return resolved
}

func resolveServer(srv Server) Server {
	if srv.User == "" {
		srv.User = sshConfigGet(srv.Host, "User")
	}
	if srv.User == "" {
		srv.User = os.Getenv("USER")
	}
	if srv.User == "" {
		srv.User = "root"
	}

	if srv.Port == 0 {
		if portStr := sshConfigGet(srv.Host, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				srv.Port = port
			}
		}
	}
	if srv.Port == 0 {
		srv.Port = 22
	}

	if srv.KeyFile == "" {
		if identity := sshConfigGet(srv.Host, "IdentityFile"); identity != "" {
			expanded := expandTilde(identity)
			if _, err := os.Stat(expanded); err == nil {
				srv.KeyFile = expanded
			}
		}
	} else {
		srv.KeyFile = expandTilde(srv.KeyFile)
	}

	if srv.OSType == "" {
		srv.OSType = "linux"
	}

	return srv
}

// sshConfigGet looks up a key for a host in the user's SSH config.
func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}

// expandTilde expands a leading ~/ to the user's home directory.
// Paths like ~otheruser/... are returned unchanged since we cannot
// reliably resolve other users' home directories.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
