// Package config provides configuration management for the ClawTrace agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.clawtrace).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".clawtrace"), nil
}

// DefaultConfigPath returns the default config file path (~/.clawtrace/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// DefaultSpoolPath returns the default offline heartbeat spool path.
func DefaultSpoolPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "spool.db"), nil
}

// AgentConfig holds the agent's configuration.
type AgentConfig struct {
	ServerURL   string `yaml:"server_url,omitempty"`
	AgentID     string `yaml:"agent_id,omitempty"`
	AgentSecret string `yaml:"agent_secret,omitempty"`
	SpoolPath   string `yaml:"spool_path,omitempty"`

	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
}

// ProxyConfig groups the agent's proxy settings.
type ProxyConfig struct {
	HTTPProxy   string
	HTTPSProxy  string
	SOCKS5Proxy string
	NoProxy     string
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

// GetProxyConfig returns the agent's proxy settings.
func (c *AgentConfig) GetProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		HTTPProxy:   c.HTTPProxy,
		HTTPSProxy:  c.HTTPSProxy,
		SOCKS5Proxy: c.SOCKS5Proxy,
		NoProxy:     c.NoProxy,
	}
}

// Validate checks that the configuration has required fields for operation.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.AgentSecret == "" {
		return fmt.Errorf("agent_secret is required")
	}
	return nil
}

// IsConfigured returns true if the agent has been registered with a server.
func (c *AgentConfig) IsConfigured() bool {
	return c.ServerURL != "" && c.AgentID != "" && c.AgentSecret != ""
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*AgentConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AgentConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *AgentConfig) SaveDefault() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
