// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/anvilgate/lib/anvil"
	"github.com/bureau-foundation/anvilgate/lib/forge"
)

// Configuration defaults.
const (
	DefaultChallenge        = "challenge"
	DefaultPublicHost       = "http://127.0.0.1"
	DefaultProxyPort        = 28545
	DefaultFlag             = "0ops{you_should_set_the_FLAG_env_var}"
	DefaultProjectDirectory = "challenge/project"
	DefaultRecordPath       = "userdata.json"
	DefaultLogLevel         = "info"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	// Challenge names the challenge. Reported on the status endpoint and
	// in logs.
	Challenge string `yaml:"challenge"`

	// ListenAddress is the public listener. Defaults to ":<proxy_port>".
	ListenAddress string `yaml:"listen_address"`

	// ProxyPort is the public port. It is part of the RPC URL handed to
	// players and the default listen port.
	ProxyPort int `yaml:"proxy_port"`

	// PublicHost is the scheme and host players reach the gateway at,
	// e.g. "http://ctf.example.org". The RPC URL in handles is
	// "<public_host>:<proxy_port>".
	PublicHost string `yaml:"public_host"`

	// MetricsAddress is an optional separate listener for /metrics.
	// Empty disables metrics serving.
	MetricsAddress string `yaml:"metrics_address"`

	// Flag is revealed once the challenge is solved.
	Flag string `yaml:"flag"`

	// ProjectDirectory is the challenge's Foundry project.
	ProjectDirectory string `yaml:"project_directory"`

	// RecordPath is where the environment record is persisted.
	RecordPath string `yaml:"record_path"`

	// StartupTimeout bounds the wait for the node to become ready.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// DeployTimeout bounds the deployment script.
	DeployTimeout time.Duration `yaml:"deploy_timeout"`

	// BackendTimeout bounds each proxied HTTP call to the node.
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	Anvil AnvilConfig `yaml:"anvil"`
	Forge ForgeConfig `yaml:"forge"`
	Log   LogConfig   `yaml:"log"`
}

// AnvilConfig configures the backend node.
type AnvilConfig struct {
	Binary   string `yaml:"binary"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Accounts int    `yaml:"accounts"`
	Balance  int    `yaml:"balance"`
	ChainID  int    `yaml:"chain_id"`

	// ForkURL, when set, makes the node fork that upstream chain. Empty
	// means a fresh chain.
	ForkURL string `yaml:"fork_url"`
}

// ForgeConfig configures challenge deployment.
type ForgeConfig struct {
	Binary string `yaml:"binary"`
	Script string `yaml:"script"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// File, when set, additionally writes logs to this file with
	// rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig loads a configuration from a YAML file. An empty path
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Challenge == "" {
		c.Challenge = DefaultChallenge
	}
	if c.ProxyPort == 0 {
		c.ProxyPort = DefaultProxyPort
	}
	if c.PublicHost == "" {
		c.PublicHost = DefaultPublicHost
	}
	if c.Flag == "" {
		c.Flag = DefaultFlag
	}
	if c.ProjectDirectory == "" {
		c.ProjectDirectory = DefaultProjectDirectory
	}
	if c.RecordPath == "" {
		c.RecordPath = DefaultRecordPath
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = DefaultBackendTimeout
	}
	if c.Anvil.Binary == "" {
		c.Anvil.Binary = anvil.DefaultBinary
	}
	if c.Anvil.Host == "" {
		c.Anvil.Host = anvil.DefaultHost
	}
	if c.Anvil.Port == 0 {
		c.Anvil.Port = anvil.DefaultPort
	}
	if c.Anvil.Accounts == 0 {
		c.Anvil.Accounts = anvil.DefaultAccounts
	}
	if c.Anvil.Balance == 0 {
		c.Anvil.Balance = anvil.DefaultBalance
	}
	if c.Anvil.ChainID == 0 {
		c.Anvil.ChainID = anvil.DefaultChainID
	}
	if c.Forge.Binary == "" {
		c.Forge.Binary = forge.DefaultBinary
	}
	if c.Forge.Script == "" {
		c.Forge.Script = forge.DefaultScript
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// ApplyEnvironment overrides configuration from the gateway's
// environment variables: CHALLENGE, PUBLIC_HOST, PROXY_PORT, FLAG,
// ETH_RPC_URL, ANVIL_IP and ANVIL_PORT. lookup is normally
// os.LookupEnv. ETH_RPC_URL enables forking whenever it is set.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) error {
	if value, ok := lookup("CHALLENGE"); ok && value != "" {
		c.Challenge = value
	}
	if value, ok := lookup("PUBLIC_HOST"); ok && value != "" {
		c.PublicHost = value
	}
	if value, ok := lookup("FLAG"); ok && value != "" {
		c.Flag = value
	}
	if value, ok := lookup("ETH_RPC_URL"); ok {
		c.Anvil.ForkURL = value
	}
	if value, ok := lookup("ANVIL_IP"); ok && value != "" {
		c.Anvil.Host = value
	}

	ports := []struct {
		name   string
		target *int
	}{
		{"PROXY_PORT", &c.ProxyPort},
		{"ANVIL_PORT", &c.Anvil.Port},
	}
	for _, port := range ports {
		value, ok := lookup(port.name)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", port.name, value)
		}
		*port.target = parsed
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validatePort("proxy_port", c.ProxyPort); err != nil {
		return err
	}
	if err := validatePort("anvil.port", c.Anvil.Port); err != nil {
		return err
	}
	if c.Anvil.Accounts < 2 {
		return fmt.Errorf("anvil.accounts must be at least 2 (system and player), got %d", c.Anvil.Accounts)
	}
	if c.Anvil.Balance <= 0 {
		return fmt.Errorf("anvil.balance must be positive, got %d", c.Anvil.Balance)
	}
	if c.Anvil.ChainID <= 0 {
		return fmt.Errorf("anvil.chain_id must be positive, got %d", c.Anvil.ChainID)
	}
	if c.Anvil.ForkURL != "" {
		if _, err := url.ParseRequestURI(c.Anvil.ForkURL); err != nil {
			return fmt.Errorf("anvil.fork_url: %w", err)
		}
	}
	if !strings.HasPrefix(c.PublicHost, "http://") && !strings.HasPrefix(c.PublicHost, "https://") {
		return fmt.Errorf("public_host %q must start with http:// or https://", c.PublicHost)
	}
	if c.ProjectDirectory == "" {
		return fmt.Errorf("project_directory is required")
	}
	if c.RecordPath == "" {
		return fmt.Errorf("record_path is required")
	}
	if c.StartupTimeout < 0 || c.DeployTimeout < 0 || c.BackendTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be debug, info, warn, or error", c.Log.Level)
	}
	return nil
}

// Listen returns the public listen address.
func (c *Config) Listen() string {
	if c.ListenAddress != "" {
		return c.ListenAddress
	}
	return ":" + strconv.Itoa(c.ProxyPort)
}

// RPCURL returns the endpoint players are told to use.
func (c *Config) RPCURL() string {
	return strings.TrimSuffix(c.PublicHost, "/") + ":" + strconv.Itoa(c.ProxyPort)
}

// AnvilLauncherConfig converts the node section for lib/anvil.
func (c *Config) AnvilLauncherConfig() anvil.Config {
	return anvil.Config{
		Binary:   c.Anvil.Binary,
		Host:     c.Anvil.Host,
		Port:     c.Anvil.Port,
		Accounts: c.Anvil.Accounts,
		Balance:  c.Anvil.Balance,
		ChainID:  c.Anvil.ChainID,
		ForkURL:  c.Anvil.ForkURL,
	}
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
