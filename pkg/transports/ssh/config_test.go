package ssh

import (
	"testing"
)

// TestDefaultConfig checks the defaults are safe to dial with.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("pve1.example.com", "root")

	if cfg.Port != 22 {
		t.Errorf("port = %d, want 22", cfg.Port)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("strict host key checking disabled by default")
	}
	if cfg.ConnectTimeout == 0 || cfg.CommandTimeout == 0 {
		t.Error("timeouts not defaulted")
	}
}

// TestConfigValidate checks required-field enforcement.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.PrivateKeyPath = "/etc/pvconverge/id_ed25519" }, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"missing key", func(c *Config) { c.PrivateKeyPath = "" }, true},
		{"bad port", func(c *Config) { c.Port = 0; c.PrivateKeyPath = "/k" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("pve1.example.com", "root")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() accepted an invalid config")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() rejected a valid config: %v", err)
			}
		})
	}
}

// TestAddress checks host:port formatting.
func TestAddress(t *testing.T) {
	cfg := DefaultConfig("pve1.example.com", "root")
	if got := cfg.Address(); got != "pve1.example.com:22" {
		t.Errorf("Address() = %q", got)
	}
	cfg.Port = 2222
	if got := cfg.Address(); got != "pve1.example.com:2222" {
		t.Errorf("Address() = %q", got)
	}
}

// TestResultSuccess checks exit-code interpretation.
func TestResultSuccess(t *testing.T) {
	if !(Result{ExitCode: 0}).Success() {
		t.Error("exit 0 not a success")
	}
	if (Result{ExitCode: 2}).Success() {
		t.Error("exit 2 counted as success")
	}
}

// TestTransportErrorString checks the error renders its operation.
func TestTransportErrorString(t *testing.T) {
	err := &TransportError{Op: "connect", IsTimeout: true}
	if err.Error() == "" {
		t.Error("empty error string")
	}
}
