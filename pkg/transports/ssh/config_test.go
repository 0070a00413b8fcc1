package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("example.com", "admin")

	if config.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", config.Host)
	}
	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.User != "admin" {
		t.Errorf("expected user 'admin', got '%s'", config.User)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth, got '%s'", config.AuthMethod)
	}
	if !config.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected 30s connection timeout, got %v", config.ConnectionTimeout)
	}
	if config.CommandTimeout != 15*time.Minute {
		t.Errorf("expected 15m command timeout, got %v", config.CommandTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	// A key file that exists, for the key-auth cases.
	keyPath := writeTestKeyFile(t)

	validConfig := func() *Config {
		c := DefaultConfig("example.com", "admin")
		c.AuthMethod = AuthMethodPassword
		c.Password = "secret"
		c.StrictHostKeyChecking = false
		return c
	}

	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid password config",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "valid key config",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = keyPath
			},
			expectError: false,
		},
		{
			name: "missing host",
			modifyFunc: func(c *Config) {
				c.Host = ""
			},
			expectError: true,
			errorMsg:    "host is required",
		},
		{
			name: "invalid port zero",
			modifyFunc: func(c *Config) {
				c.Port = 0
			},
			expectError: true,
			errorMsg:    "invalid port",
		},
		{
			name: "invalid port too large",
			modifyFunc: func(c *Config) {
				c.Port = 70000
			},
			expectError: true,
			errorMsg:    "invalid port",
		},
		{
			name: "missing user",
			modifyFunc: func(c *Config) {
				c.User = ""
			},
			expectError: true,
			errorMsg:    "user is required",
		},
		{
			name: "password auth without password",
			modifyFunc: func(c *Config) {
				c.Password = ""
			},
			expectError: true,
			errorMsg:    "password is required",
		},
		{
			name: "key auth with missing key file",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/id_ed25519"
			},
			expectError: true,
			errorMsg:    "private key file not found",
		},
		{
			name: "unsupported auth method",
			modifyFunc: func(c *Config) {
				c.AuthMethod = "kerberos"
			},
			expectError: true,
			errorMsg:    "unsupported auth method",
		},
		{
			name: "strict checking without known_hosts",
			modifyFunc: func(c *Config) {
				c.StrictHostKeyChecking = true
				c.KnownHostsPath = ""
			},
			expectError: true,
			errorMsg:    "known_hosts path is required",
		},
		{
			name: "zero connection timeout",
			modifyFunc: func(c *Config) {
				c.ConnectionTimeout = 0
			},
			expectError: true,
			errorMsg:    "connection timeout must be positive",
		},
		{
			name: "zero command timeout",
			modifyFunc: func(c *Config) {
				c.CommandTimeout = 0
			},
			expectError: true,
			errorMsg:    "command timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modifyFunc(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, got '%s'", err.Error())
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	config := DefaultConfig("example.com", "admin")
	if addr := config.Address(); addr != "example.com:22" {
		t.Errorf("expected 'example.com:22', got '%s'", addr)
	}

	config.Port = 2222
	if addr := config.Address(); addr != "example.com:2222" {
		t.Errorf("expected 'example.com:2222', got '%s'", addr)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		config := DefaultConfig("example.com", "admin")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		sshConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("failed to build ssh config: %v", err)
		}
		if sshConfig.User != "admin" {
			t.Errorf("expected user 'admin', got '%s'", sshConfig.User)
		}
		// Password plus keyboard-interactive fallback.
		if len(sshConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(sshConfig.Auth))
		}
		if sshConfig.Timeout != config.ConnectionTimeout {
			t.Errorf("expected timeout %v, got %v", config.ConnectionTimeout, sshConfig.Timeout)
		}
	})

	t.Run("key auth", func(t *testing.T) {
		config := DefaultConfig("example.com", "admin")
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = writeTestKeyFile(t)
		config.StrictHostKeyChecking = false

		sshConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("failed to build ssh config: %v", err)
		}
		if len(sshConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(sshConfig.Auth))
		}
	})

	t.Run("key auth with unreadable key", func(t *testing.T) {
		config := DefaultConfig("example.com", "admin")
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = "/nonexistent/id_ed25519"
		config.StrictHostKeyChecking = false

		_, err := config.BuildSSHClientConfig()
		if err == nil {
			t.Fatal("expected error for unreadable key, got nil")
		}
		if !strings.Contains(err.Error(), "failed to read private key") {
			t.Errorf("expected read error, got '%s'", err.Error())
		}
	})

	t.Run("strict checking with missing known_hosts", func(t *testing.T) {
		config := DefaultConfig("example.com", "admin")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.KnownHostsPath = "/nonexistent/known_hosts"

		_, err := config.BuildSSHClientConfig()
		if err == nil {
			t.Fatal("expected error for missing known_hosts, got nil")
		}
		if !strings.Contains(err.Error(), "failed to load known_hosts") {
			t.Errorf("expected known_hosts error, got '%s'", err.Error())
		}
	})
}

func writeTestKeyFile(t *testing.T) string {
	t.Helper()
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, marshalTestKey(t, privKey), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return keyPath
}
