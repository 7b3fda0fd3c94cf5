package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("SuccessfulOperation", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary error")
			}
			return nil
		}

		err := RetryWithBackoff(context.Background(), operation, DefaultRetryConfig())
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("MaxAttemptsExceeded", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return errors.New("persistent error")
		}

		err := RetryWithBackoff(context.Background(), operation, DefaultRetryConfig())
		require.Error(t, err)
		assert.Equal(t, DefaultRetryConfig().MaxAttempts, attempts)
	})

	t.Run("NonRetryableError", func(t *testing.T) {
		sentinel := errors.New("fatal")
		attempts := 0
		operation := func() error {
			attempts++
			return sentinel
		}

		cfg := DefaultRetryConfig()
		cfg.RetryableErrors = []error{errors.New("other")}
		err := RetryWithBackoff(context.Background(), operation, cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		operation := func() error {
			attempts++
			cancel()
			return errors.New("error")
		}

		err := RetryWithBackoff(ctx, operation, DefaultRetryConfig())
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestFileHelper(t *testing.T) {
	helper := &FileHelper{}

	t.Run("WriteFileSafely", func(t *testing.T) {
		tempDir := t.TempDir()
		filename := tempDir + "/test.txt"
		data := []byte("test data")

		err := helper.WriteFileSafely(filename, data, 0644)
		require.NoError(t, err)

		readData, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EnsureDirectory", func(t *testing.T) {
		tempDir := t.TempDir()
		path := tempDir + "/test/nested"

		err := helper.EnsureDirectory(path, 0755)
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestValidationHelper(t *testing.T) {
	helper := &ValidationHelper{}

	t.Run("ValidateEmail", func(t *testing.T) {
		tests := []struct {
			email string
			valid bool
		}{
			{"guardian@example.com", true},
			{"invalid.email", false},
			{"guardian@domain", false},
			{"first.last+tag@example.com", true},
			{"", false},
		}

		for _, tt := range tests {
			t.Run(tt.email, func(t *testing.T) {
				assert.Equal(t, tt.valid, helper.ValidateEmail(tt.email))
			})
		}
	})

	t.Run("ValidateURL", func(t *testing.T) {
		tests := []struct {
			url   string
			valid bool
		}{
			{"https://elections.example.org", true},
			{"http://localhost:8080", true},
			{"invalid-url", false},
			{"", false},
		}

		for _, tt := range tests {
			t.Run(tt.url, func(t *testing.T) {
				assert.Equal(t, tt.valid, helper.ValidateURL(tt.url))
			})
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := DefaultLogConfig()
		cfg.OutputPath = filepath.Join(tempDir, "logs", "client.log")

		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)

		logger.Info("startup")
		require.NoError(t, logger.Sync())

		info, err := os.Stat(cfg.OutputPath)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		cfg := DefaultLogConfig()
		cfg.OutputPath = filepath.Join(t.TempDir(), "client.log")
		cfg.Level = "loud"

		logger, err := NewLogger(cfg)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("LevelFiltersFileOutput", func(t *testing.T) {
		cfg := DefaultLogConfig()
		cfg.OutputPath = filepath.Join(t.TempDir(), "client.log")
		cfg.Level = "warn"

		logger, err := NewLogger(cfg)
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud")
		require.NoError(t, logger.Sync())

		raw, err := os.ReadFile(cfg.OutputPath)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "quiet")
		assert.Contains(t, string(raw), "loud")
	})
}

func TestLogWriter(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	writer := NewLogWriter(zap.New(core), zapcore.DebugLevel)

	n, err := writer.Write([]byte("server ready\n"))
	require.NoError(t, err)
	assert.Equal(t, len("server ready\n"), n)

	n, err = writer.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "server ready", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestSafeGo(t *testing.T) {
	logger := zap.NewExample()

	t.Run("NormalExecution", func(t *testing.T) {
		executed := make(chan bool)
		SafeGo(logger, func() {
			executed <- true
		})
		assert.True(t, <-executed)
	})

	t.Run("PanicRecovery", func(t *testing.T) {
		recovered := make(chan bool)
		SafeGo(logger, func() {
			defer func() {
				recovered <- true
			}()
			panic("test panic")
		})
		assert.True(t, <-recovered)
	})
}
