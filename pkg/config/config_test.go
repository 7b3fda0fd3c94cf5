package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := []byte(`environment: production
log_level: debug
backend:
  base_url: https://elections.example.org
  timeout: 20s
  retry_attempts: 2
poll:
  interval: 5s
  max_transient_errors: 3
  timeout: 15m
session:
  token_secret: test-secret
  token_expiry: 12h
`)

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	// Test successful config loading
	t.Run("LoadValidConfig", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.NotNil(t, cfg)

		// Verify loaded values
		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "https://elections.example.org", cfg.Backend.BaseURL)
		assert.Equal(t, 20*time.Second, cfg.Backend.Timeout)
		assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
		assert.Equal(t, 12*time.Hour, cfg.Session.TokenExpiry)
	})

	// Test environment variable override
	t.Run("EnvironmentOverride", func(t *testing.T) {
		os.Setenv("GUARDIAN_LOG_LEVEL", "error")
		defer os.Unsetenv("GUARDIAN_LOG_LEVEL")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.LogLevel)
	})

	// Test invalid config file
	t.Run("InvalidConfig", func(t *testing.T) {
		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: [yaml: syntax"), 0644)
		require.NoError(t, err)

		cfg, err := Load(invalidPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	// Test missing config file falls back to defaults
	t.Run("DefaultValues", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		require.NoError(t, err)
		assert.NotNil(t, cfg)

		// Check default values
		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
		assert.Equal(t, 5, cfg.Poll.MaxTransientErrors)
	})
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		modifyConfig func(*Config)
		wantErr      bool
		errSubstr    string
	}{
		{
			name:         "ValidConfig",
			modifyConfig: func(c *Config) {},
			wantErr:      false,
		},
		{
			name: "EmptyBackendURL",
			modifyConfig: func(c *Config) {
				c.Backend.BaseURL = ""
			},
			wantErr:   true,
			errSubstr: "base_url cannot be empty",
		},
		{
			name: "NegativeRetryAttempts",
			modifyConfig: func(c *Config) {
				c.Backend.RetryAttempts = -1
			},
			wantErr:   true,
			errSubstr: "retry_attempts",
		},
		{
			name: "SubSecondPollInterval",
			modifyConfig: func(c *Config) {
				c.Poll.Interval = 100 * time.Millisecond
			},
			wantErr:   true,
			errSubstr: "at least 1s",
		},
		{
			name: "PollTimeoutBelowInterval",
			modifyConfig: func(c *Config) {
				c.Poll.Interval = 10 * time.Second
				c.Poll.Timeout = 5 * time.Second
			},
			wantErr:   true,
			errSubstr: "timeout must exceed",
		},
		{
			name: "WeakVaultIterations",
			modifyConfig: func(c *Config) {
				c.Session.VaultKeyIters = 100
			},
			wantErr:   true,
			errSubstr: "vault_key_iters",
		},
		{
			name: "InvalidEmbeddedPort",
			modifyConfig: func(c *Config) {
				c.Database.Embedded = true
				c.Database.Port = -1
			},
			wantErr:   true,
			errSubstr: "invalid embedded port",
		},
		{
			name: "MissingDatabaseURL",
			modifyConfig: func(c *Config) {
				c.Database.Embedded = false
				c.Database.URL = ""
			},
			wantErr:   true,
			errSubstr: "database URL cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Environment: "test",
				LogLevel:    "info",
				Backend: BackendConfig{
					BaseURL:       "http://localhost:8080",
					Timeout:       15 * time.Second,
					RetryAttempts: 3,
					RetryDelay:    time.Second,
				},
				Database: DatabaseConfig{
					URL:      "postgres://localhost:5433/guardian_voting",
					MaxConns: 10,
					Timeout:  30 * time.Second,
					DataDir:  "data/postgres",
					Port:     5433,
				},
				Session: SessionConfig{
					TokenExpiry:   24 * time.Hour,
					VaultKeyIters: 100000,
				},
				Poll: PollConfig{
					Interval:           3 * time.Second,
					MaxTransientErrors: 5,
					Timeout:            10 * time.Minute,
				},
				Monitor: MonitorConfig{
					ElectionRefreshSpec: "0 */1 * * * *",
					GuardianSweepSpec:   "*/30 * * * * *",
					MaxConcurrent:       4,
				},
			}

			tt.modifyConfig(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errSubstr != "" {
					assert.Contains(t, err.Error(), tt.errSubstr)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		wantLevel string
	}{
		{
			name:      "Debug",
			logLevel:  "debug",
			wantLevel: "debug",
		},
		{
			name:      "Info",
			logLevel:  "info",
			wantLevel: "info",
		},
		{
			name:      "Warn",
			logLevel:  "warn",
			wantLevel: "warn",
		},
		{
			name:      "Error",
			logLevel:  "error",
			wantLevel: "error",
		},
		{
			name:      "Invalid",
			logLevel:  "invalid",
			wantLevel: "info", // defaults to info
		},
		{
			name:      "Empty",
			logLevel:  "",
			wantLevel: "info", // defaults to info
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			level := cfg.GetLogLevel()
			assert.Equal(t, tt.wantLevel, level.String())
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{
			name:        "Development",
			environment: "development",
			want:        true,
		},
		{
			name:        "Development Uppercase",
			environment: "DEVELOPMENT",
			want:        true,
		},
		{
			name:        "Production",
			environment: "production",
			want:        false,
		},
		{
			name:        "Staging",
			environment: "staging",
			want:        false,
		},
		{
			name:        "Empty",
			environment: "",
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsDevelopment())
		})
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	// Setup environment variables
	envVars := map[string]string{
		"GUARDIAN_ENVIRONMENT":               "production",
		"GUARDIAN_LOG_LEVEL":                 "debug",
		"GUARDIAN_BACKEND_BASE_URL":          "https://env.example.org",
		"GUARDIAN_POLL_MAX_TRANSIENT_ERRORS": "9",
	}

	// Set environment variables
	for k, v := range envVars {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	// Create minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := []byte(`environment: development
log_level: info
`)

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	// Load config
	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify environment variables took precedence
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://env.example.org", cfg.Backend.BaseURL)
	assert.Equal(t, 9, cfg.Poll.MaxTransientErrors)
}

func TestCredentialDirCleaned(t *testing.T) {
	cfg := &Config{
		Session: SessionConfig{
			TokenExpiry:   time.Hour,
			VaultKeyIters: 100000,
			CredentialDir: "credentials/./guardian",
		},
	}

	err := cfg.validateSession()
	require.NoError(t, err)

	// Verify path was cleaned
	assert.Equal(t, filepath.Clean("credentials/./guardian"), cfg.Session.CredentialDir)
}
