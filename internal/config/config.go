// Package config provides centralized configuration management for the OHLCV pipeline.
// This module loads settings from defaults, an optional config file, a .env file and
// environment variables (highest priority), validates them, and exposes typed structs
// for the Alpaca client, logging and the trading calendar.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
)

const (
	DefaultBaseURL          = "https://data.alpaca.markets"
	DefaultTimeout          = 10 * time.Second
	DefaultCalendarExchange = "XNYS"
	DefaultCalendarTimezone = "America/New_York"
	DefaultDotEnvPath       = ".env"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	ConfigPath string `json:"-" mapstructure:"-"`

	Alpaca   AlpacaConfig   `json:"alpaca" mapstructure:"alpaca"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Calendar CalendarConfig `json:"calendar" mapstructure:"calendar"`
}

// AlpacaConfig configures the market-data client
type AlpacaConfig struct {
	APIKey            string        `json:"api_key" mapstructure:"api_key" validate:"required"`
	APISecret         string        `json:"api_secret" mapstructure:"api_secret" validate:"required"`
	BaseURL           string        `json:"base_url" mapstructure:"base_url" validate:"required,url"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"` // 0 disables client-side pacing
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `json:"format" mapstructure:"format" validate:"oneof=json text"`
	Output     string `json:"output" mapstructure:"output" validate:"oneof=stdout stderr file"`
	FilePath   string `json:"file_path" mapstructure:"file_path" validate:"required_if=Output file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size" validate:"gte=0"`       // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" validate:"gte=0"` // files
	MaxAge     int    `json:"max_age" mapstructure:"max_age" validate:"gte=0"`         // days
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// CalendarConfig selects the trading calendar used for completeness checks
type CalendarConfig struct {
	Exchange string `json:"exchange" mapstructure:"exchange" validate:"required"`
	Timezone string `json:"timezone" mapstructure:"timezone" validate:"required,timezone"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"alpaca.api_key":             "ALPACA_API_KEY",
	"alpaca.api_secret":          "ALPACA_API_SECRET",
	"alpaca.base_url":            "ALPACA_DATA_BASE_URL",
	"alpaca.timeout":             "ALPACA_TIMEOUT",
	"alpaca.requests_per_minute": "ALPACA_REQUESTS_PER_MINUTE",
	"logging.level":              "OHLCV_LOG_LEVEL",
	"logging.format":             "OHLCV_LOG_FORMAT",
	"logging.output":             "OHLCV_LOG_OUTPUT",
	"logging.file_path":          "OHLCV_LOG_FILE_PATH",
	"calendar.exchange":          "OHLCV_CALENDAR_EXCHANGE",
	"calendar.timezone":          "OHLCV_CALENDAR_TIMEZONE",
}

// credentialFields are skipped by Validate and checked by RequireCredentials.
var credentialFields = []string{"Alpaca.APIKey", "Alpaca.APISecret"}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	configPath string
	dotEnvPath string
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewConfigManager creates a new configuration manager. configPath may be empty.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		dotEnvPath: DefaultDotEnvPath,
		logger:     logger,
		validate:   newValidator(),
	}
}

// WithDotEnv overrides the .env file location; an empty path disables it.
func (cm *ConfigManager) WithDotEnv(path string) *ConfigManager {
	cm.dotEnvPath = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority, .env values included)
// 2. Configuration file
// 3. Default values (lowest priority)
//
// Credentials are not required here; call RequireCredentials before talking to the API.
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	if err := cm.loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cm.dotEnvPath, err)
	}

	v := viper.New()
	setDefaults(v)

	if cm.configPath != "" {
		v.SetConfigFile(cm.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.ConfigPath = cm.configPath
	cfg.normalize()

	if err := cm.Validate(&cfg); err != nil {
		return nil, err
	}

	cm.logger.DebugContext(ctx, "configuration loaded",
		"config_path", cm.configPath,
		"base_url", cfg.Alpaca.BaseURL,
		"log_level", cfg.Logging.Level,
		"calendar", cfg.Calendar.Exchange)

	return &cfg, nil
}

// loadDotEnv exports the .env file into the process environment without
// overriding variables that are already set.
func (cm *ConfigManager) loadDotEnv() error {
	if cm.dotEnvPath == "" {
		return nil
	}
	err := godotenv.Load(cm.dotEnvPath)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks every setting except the API credentials.
func (cm *ConfigManager) Validate(cfg *AppConfig) error {
	return toConfigErrors(cm.validate.StructExcept(cfg, credentialFields...))
}

// RequireCredentials reports a ConfigError for each missing API credential.
func (cm *ConfigManager) RequireCredentials(cfg *AppConfig) error {
	return toConfigErrors(cm.validate.StructPartial(cfg, credentialFields...))
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("alpaca.api_key", "")
	v.SetDefault("alpaca.api_secret", "")
	v.SetDefault("alpaca.base_url", d.Alpaca.BaseURL)
	v.SetDefault("alpaca.timeout", d.Alpaca.Timeout.String())
	v.SetDefault("alpaca.requests_per_minute", d.Alpaca.RequestsPerMinute)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("calendar.exchange", d.Calendar.Exchange)
	v.SetDefault("calendar.timezone", d.Calendar.Timezone)
}

// secondsToDurationHook accepts a bare number of seconds ("10", "2.5") for
// duration fields in addition to Go duration strings.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch value := data.(type) {
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float64:
			return time.Duration(value * float64(time.Second)), nil
		case string:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return validate
}

// toConfigErrors converts validator output into ConfigErrors keyed by the
// dotted config key, naming the environment variable when one exists.
func toConfigErrors(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &apperrors.ConfigError{Key: "config", Message: err.Error()}
	}

	out := make(apperrors.ConfigErrors, 0, len(validationErrs))
	for _, fe := range validationErrs {
		key := fe.Namespace()
		if idx := strings.Index(key, "."); idx >= 0 {
			key = key[idx+1:]
		}
		out = append(out, &apperrors.ConfigError{Key: key, Message: describe(fe, key)})
	}
	return out
}

func describe(fe validator.FieldError, key string) string {
	var msg string
	switch fe.Tag() {
	case "required", "required_if":
		msg = "is required"
	case "oneof":
		msg = fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		msg = "must be a valid URL"
	case "timezone":
		msg = fmt.Sprintf("unknown timezone %q", fe.Value())
	case "gt":
		msg = fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed %q check", fe.Tag())
	}
	if env, ok := envBindings[key]; ok {
		msg += fmt.Sprintf(" (set %s)", env)
	}
	return msg
}

func (c *AppConfig) normalize() {
	c.Alpaca.APIKey = strings.TrimSpace(c.Alpaca.APIKey)
	c.Alpaca.APISecret = strings.TrimSpace(c.Alpaca.APISecret)
	c.Alpaca.BaseURL = strings.TrimRight(strings.TrimSpace(c.Alpaca.BaseURL), "/")
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Logging.Output = strings.ToLower(c.Logging.Output)
	c.Calendar.Exchange = strings.ToUpper(strings.TrimSpace(c.Calendar.Exchange))
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Alpaca: AlpacaConfig{
			BaseURL:           DefaultBaseURL,
			Timeout:           DefaultTimeout,
			RequestsPerMinute: 0,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
		},
		Calendar: CalendarConfig{
			Exchange: DefaultCalendarExchange,
			Timezone: DefaultCalendarTimezone,
		},
	}
}

// Location resolves the calendar timezone.
func (c CalendarConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// MaskSecret keeps the first and last two characters of s.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Alpaca.APIKey != "" {
		sanitized.Alpaca.APIKey = "[REDACTED]"
	}
	if sanitized.Alpaca.APISecret != "" {
		sanitized.Alpaca.APISecret = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
