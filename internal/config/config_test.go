package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clearEnv blanks every bound variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cm := NewConfigManager("", testLogger()).WithDotEnv("")
	cfg, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Alpaca.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Alpaca.Timeout)
	assert.Equal(t, 0, cfg.Alpaca.RequestsPerMinute)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "XNYS", cfg.Calendar.Exchange)
	assert.Equal(t, "America/New_York", cfg.Calendar.Timezone)

	err = cm.RequireCredentials(cfg)
	require.Error(t, err)

	var configErrs apperrors.ConfigErrors
	require.True(t, errors.As(err, &configErrs))
	require.Len(t, configErrs, 2)
	assert.Equal(t, "alpaca.api_key", configErrs[0].Key)
	assert.Contains(t, configErrs[0].Message, "ALPACA_API_KEY")
	assert.Equal(t, "alpaca.api_secret", configErrs[1].Key)
	assert.Contains(t, configErrs[1].Message, "ALPACA_API_SECRET")
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.Classify(err))
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPACA_API_KEY", " key-123 ")
	t.Setenv("ALPACA_API_SECRET", "secret-456")
	t.Setenv("ALPACA_DATA_BASE_URL", "http://localhost:9999/")
	t.Setenv("ALPACA_TIMEOUT", "2.5")
	t.Setenv("ALPACA_REQUESTS_PER_MINUTE", "180")
	t.Setenv("OHLCV_LOG_LEVEL", "DEBUG")
	t.Setenv("OHLCV_LOG_FORMAT", "json")
	t.Setenv("OHLCV_CALENDAR_EXCHANGE", "nyse")

	cm := NewConfigManager("", testLogger()).WithDotEnv("")
	cfg, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "key-123", cfg.Alpaca.APIKey)
	assert.Equal(t, "secret-456", cfg.Alpaca.APISecret)
	assert.Equal(t, "http://localhost:9999", cfg.Alpaca.BaseURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Alpaca.Timeout)
	assert.Equal(t, 180, cfg.Alpaca.RequestsPerMinute)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "NYSE", cfg.Calendar.Exchange)
	assert.NoError(t, cm.RequireCredentials(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ohlcv.yaml", `
alpaca:
  api_key: file-key
  api_secret: file-secret
  timeout: 30s
logging:
  level: info
  output: stdout
calendar:
  timezone: UTC
`)

	t.Run("file values", func(t *testing.T) {
		cfg, err := NewConfigManager(path, testLogger()).WithDotEnv("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "file-key", cfg.Alpaca.APIKey)
		assert.Equal(t, 30*time.Second, cfg.Alpaca.Timeout)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "stdout", cfg.Logging.Output)
		assert.Equal(t, "UTC", cfg.Calendar.Timezone)
		assert.Equal(t, path, cfg.ConfigPath)
		assert.Equal(t, DefaultBaseURL, cfg.Alpaca.BaseURL)
	})

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("ALPACA_API_KEY", "env-key")
		cfg, err := NewConfigManager(path, testLogger()).WithDotEnv("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "env-key", cfg.Alpaca.APIKey)
		assert.Equal(t, "file-secret", cfg.Alpaca.APISecret)
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"), testLogger()).
		WithDotEnv("").
		LoadConfig(context.Background())
	assert.Error(t, err)
}

func TestLoadConfigDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a set variable, so the keys must be truly unset.
	require.NoError(t, os.Unsetenv("ALPACA_API_KEY"))
	require.NoError(t, os.Unsetenv("ALPACA_API_SECRET"))

	path := writeFile(t, ".env", "ALPACA_API_KEY=dotenv-key\nALPACA_API_SECRET=dotenv-secret\n")

	cm := NewConfigManager("", testLogger()).WithDotEnv(path)
	cfg, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.Alpaca.APIKey)
	assert.Equal(t, "dotenv-secret", cfg.Alpaca.APISecret)
	assert.NoError(t, cm.RequireCredentials(cfg))
}

func TestLoadConfigMissingDotEnvIgnored(t *testing.T) {
	clearEnv(t)
	cm := NewConfigManager("", testLogger()).WithDotEnv(filepath.Join(t.TempDir(), ".env"))
	_, err := cm.LoadConfig(context.Background())
	assert.NoError(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		expectedKey string
		expectedMsg string
	}{
		{
			name:        "bad log level",
			env:         map[string]string{"OHLCV_LOG_LEVEL": "verbose"},
			expectedKey: "logging.level",
			expectedMsg: "must be one of: debug, info, warn, error",
		},
		{
			name:        "bad log format",
			env:         map[string]string{"OHLCV_LOG_FORMAT": "xml"},
			expectedKey: "logging.format",
			expectedMsg: "must be one of: json, text",
		},
		{
			name:        "file output without path",
			env:         map[string]string{"OHLCV_LOG_OUTPUT": "file"},
			expectedKey: "logging.file_path",
			expectedMsg: "is required",
		},
		{
			name:        "bad base url",
			env:         map[string]string{"ALPACA_DATA_BASE_URL": "not a url"},
			expectedKey: "alpaca.base_url",
			expectedMsg: "must be a valid URL",
		},
		{
			name:        "negative request rate",
			env:         map[string]string{"ALPACA_REQUESTS_PER_MINUTE": "-1"},
			expectedKey: "alpaca.requests_per_minute",
			expectedMsg: "must be at least 0",
		},
		{
			name:        "zero timeout",
			env:         map[string]string{"ALPACA_TIMEOUT": "0"},
			expectedKey: "alpaca.timeout",
			expectedMsg: "must be greater than 0",
		},
		{
			name:        "unknown timezone",
			env:         map[string]string{"OHLCV_CALENDAR_TIMEZONE": "Mars/Olympus"},
			expectedKey: "calendar.timezone",
			expectedMsg: "unknown timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewConfigManager("", testLogger()).WithDotEnv("").LoadConfig(context.Background())
			require.Error(t, err)

			var configErrs apperrors.ConfigErrors
			require.True(t, errors.As(err, &configErrs), "got %T: %v", err, err)
			require.Len(t, configErrs, 1)
			assert.Equal(t, tt.expectedKey, configErrs[0].Key)
			assert.Contains(t, configErrs[0].Message, tt.expectedMsg)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpaca.APIKey = "AKIAEXAMPLE"
	cfg.Alpaca.APISecret = "supersecret"

	out := cfg.String()
	assert.NotContains(t, out, "AKIAEXAMPLE")
	assert.NotContains(t, out, "supersecret")
	assert.Equal(t, 2, strings.Count(out, "[REDACTED]"))

	empty := DefaultConfig().String()
	assert.NotContains(t, empty, "[REDACTED]")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "PK******YZ", MaskSecret("PKABCDEFYZ"))
}

func TestCalendarLocation(t *testing.T) {
	loc, err := CalendarConfig{Timezone: "America/New_York"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = CalendarConfig{Timezone: "Nowhere/Special"}.Location()
	assert.Error(t, err)
}
