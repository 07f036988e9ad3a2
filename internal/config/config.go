// Package config provides configuration management for outcap.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/outcap"
	DefaultConfigFile = "config.yaml"
	DefaultDataDir    = ".local/share/outcap"
)

// Output formats for rendered dumps.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey    = errors.New("invalid configuration key")
	ErrInvalidFormat = errors.New("invalid output format")
	ErrInvalidValue  = errors.New("invalid configuration value")
	ErrNoEditor      = errors.New("$EDITOR environment variable not set")
)

// validFormats contains the allowed dump output formats (unexported).
var validFormats = map[string]bool{
	FormatText: true,
	FormatJSON: true,
	FormatYAML: true,
}

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full outcap configuration.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
}

// CaptureConfig holds defaults for capture sessions.
type CaptureConfig struct {
	BinaryStdout bool `mapstructure:"binary_stdout"`
	MaxLineBytes int  `mapstructure:"max_line_bytes" validate:"gte=0"`
}

// StorageConfig holds storage location configuration.
type StorageConfig struct {
	Catalog string `mapstructure:"catalog" validate:"required"`
	Logs    string `mapstructure:"logs" validate:"required"`
}

// OutputConfig controls how dumps are shown on the terminal.
type OutputConfig struct {
	Format  string `mapstructure:"format" validate:"omitempty,oneof=text json yaml"`
	Spinner bool   `mapstructure:"spinner"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Verbosity  int  `mapstructure:"verbosity" validate:"gte=0,lte=2"`
	Timestamps bool `mapstructure:"timestamps"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Loader provides configuration loading and saving.
type Loader struct {
	v       *viper.Viper
	path    string
	homeDir string
}

// NewLoader creates a new configuration loader.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("OUTCAP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific env vars to config keys.
	// We intentionally ignore errors here as BindEnv only fails if called with zero arguments.
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("output.format", "OUTCAP_FORMAT")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("storage.logs", "OUTCAP_LOG_DIR")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("log.verbosity", "OUTCAP_VERBOSITY")

	l := &Loader{
		v:       v,
		path:    configPath,
		homeDir: home,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l, nil
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("capture.binary_stdout", false)
	l.v.SetDefault("capture.max_line_bytes", 0)
	l.v.SetDefault("storage.catalog", "~/.local/share/outcap/runs.json")
	l.v.SetDefault("storage.logs", "~/.local/share/outcap/logs")
	l.v.SetDefault("output.format", FormatText)
	l.v.SetDefault("output.spinner", true)
	l.v.SetDefault("log.verbosity", 0)
	l.v.SetDefault("log.timestamps", false)
}

// Load reads the configuration file, creating defaults if it doesn't exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand paths
	cfg.Storage.Catalog = l.expandPath(cfg.Storage.Catalog)
	cfg.Storage.Logs = l.expandPath(cfg.Storage.Logs)

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// All returns every setting as a nested map.
func (l *Loader) All() map[string]any {
	return l.v.AllSettings()
}

// Set sets a configuration value by dot-notation key and writes the file.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	l.v.Set(key, parsed)
	return l.v.WriteConfig()
}

// parseValue converts a command-line string to the type the key holds.
func parseValue(key, value string) (any, error) {
	switch key {
	case "output.format":
		if !validFormats[value] {
			return nil, fmt.Errorf("%w: %s (valid: %s)", ErrInvalidFormat, value, strings.Join(ValidFormats(), ", "))
		}
		return value, nil
	case "capture.binary_stdout", "output.spinner", "log.timestamps":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects true or false", ErrInvalidValue, key)
		}
		return b, nil
	case "capture.max_line_bytes":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %s expects a non-negative integer", ErrInvalidValue, key)
		}
		return n, nil
	case "log.verbosity":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return nil, fmt.Errorf("%w: %s expects 0, 1 or 2", ErrInvalidValue, key)
		}
		return n, nil
	default:
		return value, nil
	}
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if validKeys[key] {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}

// IsValidFormat reports whether name is a supported dump output format.
func IsValidFormat(name string) bool {
	return validFormats[name]
}

// ValidFormats returns the list of supported dump output formats.
func ValidFormats() []string {
	return []string{FormatText, FormatJSON, FormatYAML}
}
