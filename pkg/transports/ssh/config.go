package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// KnownHostsPath is the path to the known_hosts file. Empty disables
	// host key verification.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts absent from known_hosts.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each remote command execution.
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for host and user.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectTimeout:        30 * time.Second,
		CommandTimeout:        5 * time.Minute,
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("private key path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildClientConfig converts the Config into an ssh.ClientConfig.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() // #nosec G106 -- opt-in via empty KnownHostsPath
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsPath, err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}
