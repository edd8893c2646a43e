package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration for a deployment run.
// It is loaded once at startup and treated as read-only afterwards.
type Config struct {
	Servers           []Server       `yaml:"servers"`
	ResourceLimits    ResourceLimits `yaml:"resource_limits"`
	Install           Install        `yaml:"install"`
	Splunk            Splunk         `yaml:"splunk"`
	Concurrency       int            `yaml:"concurrency"`
	DelayBetweenHosts Duration       `yaml:"delay_between_hosts"`
	Timeouts          Timeouts       `yaml:"timeouts"`
}

// Server describes one target host and how to authenticate to it.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	OSType   string `yaml:"os_type,omitempty"`
}

// ResourceLimits are the minimum free resources a host must have before
// the installer is allowed to touch it.
type ResourceLimits struct {
	MinMemoryMB int `yaml:"min_memory_mb"`
	MinDiskMB   int `yaml:"min_disk_mb"`
}

// Install controls how the forwarder package reaches each host.
// Exactly one of DownloadURL and LocalPackage must be set: DownloadURL
// makes each host download the package itself, LocalPackage pushes a
// local file over SFTP instead.
type Install struct {
	DownloadURL         string `yaml:"download_url,omitempty"`
	LocalPackage        string `yaml:"local_package,omitempty"`
	ForceReinstall      bool   `yaml:"force_reinstall"`
	CleanupAfterInstall bool   `yaml:"cleanup_after_install"`
}

// Splunk holds post-install forwarder configuration. AdminPassword is
// deliberately never defaulted; it must be supplied (or prompted for)
// whenever DeploymentServer or ReceivingIndexer is set.
type Splunk struct {
	DeploymentServer string `yaml:"deployment_server,omitempty"`
	ReceivingIndexer string `yaml:"receiving_indexer,omitempty"`
	AdminUser        string `yaml:"admin_user,omitempty"`
	AdminPassword    string `yaml:"admin_password,omitempty"`
}

// Timeouts bound the individual remote operations. Download and install
// get their own generous budgets; everything else runs under Command.
type Timeouts struct {
	Connect  Duration `yaml:"connect"`
	Command  Duration `yaml:"command"`
	Download Duration `yaml:"download"`
	Install  Duration `yaml:"install"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfigPath is the conventional config file name, looked up in
// the working directory.
const DefaultConfigPath = "ufdeploy.yaml"

// DefaultConfig returns a Config with the documented default values.
func DefaultConfig() *Config {
	return &Config{
		ResourceLimits: ResourceLimits{
			MinMemoryMB: 512,
			MinDiskMB:   2048,
		},
		Install: Install{
			CleanupAfterInstall: true,
		},
		Splunk: Splunk{
			AdminUser: "admin",
		},
		Concurrency:       3,
		DelayBetweenHosts: Duration{5 * time.Second},
		Timeouts: Timeouts{
			Connect:  Duration{30 * time.Second},
			Command:  Duration{60 * time.Second},
			Download: Duration{10 * time.Minute},
			Install:  Duration{5 * time.Minute},
		},
	}
}

// Load reads and parses a run configuration from the given path.
// A missing or malformed file is an error; there is no fallback config,
// since running against an implicit empty host list would be worse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for logical errors. The admin password rule
// is checked separately (see ValidateAdminCredential) so the CLI can
// prompt for the password interactively first.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}
	for i, srv := range c.Servers {
		if srv.Host == "" {
			return fmt.Errorf("server %d has no host", i)
		}
		if srv.Port < 0 || srv.Port > 65535 {
			return fmt.Errorf("server %q has invalid port %d", srv.Host, srv.Port)
		}
	}

	if c.Install.DownloadURL == "" && c.Install.LocalPackage == "" {
		return fmt.Errorf("install: one of download_url or local_package is required")
	}
	if c.Install.DownloadURL != "" && c.Install.LocalPackage != "" {
		return fmt.Errorf("install: download_url and local_package are mutually exclusive")
	}
	if c.Install.LocalPackage != "" {
		if _, err := os.Stat(expandTilde(c.Install.LocalPackage)); err != nil {
			return fmt.Errorf("install: local_package %q: %w", c.Install.LocalPackage, err)
		}
	}

	if c.ResourceLimits.MinMemoryMB < 0 || c.ResourceLimits.MinDiskMB < 0 {
		return fmt.Errorf("resource_limits must be non-negative")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.DelayBetweenHosts.Duration < 0 {
		return fmt.Errorf("delay_between_hosts must be non-negative, got %s", c.DelayBetweenHosts)
	}
	for name, d := range map[string]Duration{
		"connect":  c.Timeouts.Connect,
		"command":  c.Timeouts.Command,
		"download": c.Timeouts.Download,
		"install":  c.Timeouts.Install,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("timeouts.%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// ValidateAdminCredential enforces the no-default-password rule: whenever
// a configure step will authenticate against splunkd, an explicit admin
// password is required.
func (c *Config) ValidateAdminCredential() error {
	needsAuth := c.Splunk.DeploymentServer != "" || c.Splunk.ReceivingIndexer != ""
	if needsAuth && strings.TrimSpace(c.Splunk.AdminPassword) == "" {
		return fmt.Errorf("splunk.admin_password is required when deployment_server or receiving_indexer is set")
	}
	return nil
}
