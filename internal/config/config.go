// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for personachat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env loading, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.personachat/config.toml
//   - ~/.personachat/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/personachat/internal/util"
)

// =============================================================================
// DURATION TYPE
// =============================================================================

// Duration is a time.Duration that reads and writes as "12m", "10s" and so on
// in both TOML and JSON.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration {
	return Duration{d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete personachat configuration.
type Config struct {
	// Backend API
	API APIConfig `toml:"api" json:"api"`

	// Token lifecycle
	Auth AuthConfig `toml:"auth" json:"auth"`

	// Client-side session store
	Store StoreConfig `toml:"store" json:"store"`

	// Chat screen behavior
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`
}

// APIConfig configures the backend HTTP client.
type APIConfig struct {
	BaseURL           string   `toml:"base_url" json:"base_url"`
	RequestTimeout    Duration `toml:"request_timeout" json:"request_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second" json:"requests_per_second"` // 0 = unlimited
	Burst             int      `toml:"burst" json:"burst"`
}

// AuthConfig configures login and token refresh.
type AuthConfig struct {
	Email           string   `toml:"email" json:"email"`
	RefreshInterval Duration `toml:"refresh_interval" json:"refresh_interval"`
	RefreshTimeout  Duration `toml:"refresh_timeout" json:"refresh_timeout"`
	TOTPSecret      string   `toml:"totp_secret" json:"totp_secret"` // base32, optional
}

// StoreConfig selects where session tokens are kept.
type StoreConfig struct {
	Backend    string `toml:"backend" json:"backend"` // memory, file, sqlite
	Path       string `toml:"path" json:"path"`       // empty = inside ConfigDir
	Passphrase string `toml:"passphrase" json:"passphrase"`
}

// ChatConfig configures chat screens.
type ChatConfig struct {
	DefaultPersona   string   `toml:"default_persona" json:"default_persona"`
	RestoreTimeout   Duration `toml:"restore_timeout" json:"restore_timeout"`
	MaxUploadBytes   int64    `toml:"max_upload_bytes" json:"max_upload_bytes"`
	AllowedMimeTypes []string `toml:"allowed_mime_types" json:"allowed_mime_types"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `toml:"level" json:"level"`
	File       string `toml:"file" json:"file"` // empty = ConfigDir/personachat.log
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	Console    bool   `toml:"console" json:"console"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "http://127.0.0.1:8787",
			RequestTimeout:    D(60 * time.Second),
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Auth: AuthConfig{
			RefreshInterval: D(12 * time.Minute), // access tokens live 15m
			RefreshTimeout:  D(15 * time.Second),
		},
		Store: StoreConfig{
			Backend: BackendFile,
		},
		Chat: ChatConfig{
			RestoreTimeout: D(10 * time.Second),
			MaxUploadBytes: 10 * 1024 * 1024,
			AllowedMimeTypes: []string{
				"image/png",
				"image/jpeg",
				"image/gif",
				"image/webp",
				"application/pdf",
				"text/plain",
			},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the personachat configuration directory path.
// PERSONACHAT_HOME overrides the default of ~/.personachat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("PERSONACHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".personachat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StorePath returns the configured store path, or the backend's default file
// inside ConfigDir.
func (s StoreConfig) StorePath() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if s.Backend == BackendSQLite {
		return filepath.Join(dir, "session.db"), nil
	}
	return filepath.Join(dir, "session.json"), nil
}

// LogPath returns the configured log file, or personachat.log inside ConfigDir.
func (l LogConfig) LogPath() (string, error) {
	if l.File != "" {
		return l.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "personachat.log"), nil
}

// ensureSecurePermissions tightens config files to 0600 since they may hold
// a store passphrase or TOTP secret.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults. A .env file in the
// working directory is loaded into the environment first; environment
// overrides are applied last.
func Load() (*Config, error) {
	loadDotEnv(".env")

	if path, err := ConfigPathTOML(); err == nil && fileExists(path) {
		return LoadFromPath(path)
	}
	if path, err := ConfigPathJSON(); err == nil && fileExists(path) {
		return LoadFromPath(path)
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables that are
// already set. A missing file is not an error.
func loadDotEnv(path string) {
	if !fileExists(path) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", path, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# personachat configuration file\n")
	buf.WriteString("# Generated by personachat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// API
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.API.BaseURL),
		})
	}
	if c.API.RequestTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "api.request_timeout", Message: "must be positive"})
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "api.requests_per_second", Message: "must not be negative"})
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst < 1 {
		errs = append(errs, ValidationError{Field: "api.burst", Message: "must be at least 1 when rate limiting"})
	}

	// Auth
	if c.Auth.RefreshInterval.Duration < 10*time.Second {
		errs = append(errs, ValidationError{
			Field:   "auth.refresh_interval",
			Message: fmt.Sprintf("%s is too short, minimum is 10s", c.Auth.RefreshInterval),
		})
	}
	if c.Auth.RefreshTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "auth.refresh_timeout", Message: "must be positive"})
	}

	// Store
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: memory, file, sqlite", c.Store.Backend),
		})
	}

	// Chat
	if c.Chat.RestoreTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "chat.restore_timeout", Message: "must be positive"})
	}
	if c.Chat.MaxUploadBytes <= 0 {
		errs = append(errs, ValidationError{Field: "chat.max_upload_bytes", Message: "must be positive"})
	}
	if len(c.Chat.AllowedMimeTypes) == 0 {
		errs = append(errs, ValidationError{Field: "chat.allowed_mime_types", Message: "must list at least one type"})
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "log", Message: "rotation limits must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills any missing or zero-value fields from Default().
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = defaults.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.RequestTimeout.Duration == 0 {
		c.API.RequestTimeout = defaults.API.RequestTimeout
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst == 0 {
		c.API.Burst = defaults.API.Burst
	}

	if c.Auth.RefreshInterval.Duration == 0 {
		c.Auth.RefreshInterval = defaults.Auth.RefreshInterval
	}
	if c.Auth.RefreshTimeout.Duration == 0 {
		c.Auth.RefreshTimeout = defaults.Auth.RefreshTimeout
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)

	if c.Chat.RestoreTimeout.Duration == 0 {
		c.Chat.RestoreTimeout = defaults.Chat.RestoreTimeout
	}
	if c.Chat.MaxUploadBytes == 0 {
		c.Chat.MaxUploadBytes = defaults.Chat.MaxUploadBytes
	}
	if len(c.Chat.AllowedMimeTypes) == 0 {
		c.Chat.AllowedMimeTypes = defaults.Chat.AllowedMimeTypes
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - PERSONACHAT_API_URL: overrides api.base_url
//   - PERSONACHAT_EMAIL: overrides auth.email
//   - PERSONACHAT_REFRESH_INTERVAL: overrides auth.refresh_interval
//   - PERSONACHAT_TOTP_SECRET: overrides auth.totp_secret
//   - PERSONACHAT_STORE: overrides store.backend
//   - PERSONACHAT_STORE_PATH: overrides store.path
//   - PERSONACHAT_STORE_PASSPHRASE: overrides store.passphrase
//   - PERSONACHAT_PERSONA: overrides chat.default_persona
//   - PERSONACHAT_LOG_LEVEL: overrides log.level
//   - PERSONACHAT_LOG_FILE: overrides log.file
//   - PERSONACHAT_LOG_CONSOLE: overrides log.console
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PERSONACHAT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("PERSONACHAT_EMAIL"); v != "" {
		c.Auth.Email = v
	}
	if v := os.Getenv("PERSONACHAT_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.RefreshInterval = D(d)
		}
	}
	if v := os.Getenv("PERSONACHAT_TOTP_SECRET"); v != "" {
		c.Auth.TOTPSecret = v
	}
	if v := os.Getenv("PERSONACHAT_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("PERSONACHAT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PERSONACHAT_STORE_PASSPHRASE"); v != "" {
		c.Store.Passphrase = v
	}
	if v := os.Getenv("PERSONACHAT_PERSONA"); v != "" {
		c.Chat.DefaultPersona = v
	}
	if v := os.Getenv("PERSONACHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PERSONACHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("PERSONACHAT_LOG_CONSOLE"); v != "" {
		c.Log.Console = v == "1" || strings.EqualFold(v, "true")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "api.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value from its string form using dot notation.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]; tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(Duration{}) {
		var d Duration
		if err := d.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Chat.AllowedMimeTypes = append([]string(nil), c.Chat.AllowedMimeTypes...)
	return &clone
}

// String returns a JSON rendering with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Store.Passphrase != "" {
		safe.Store.Passphrase = "[REDACTED]"
	}
	if safe.Auth.TOTPSecret != "" {
		safe.Auth.TOTPSecret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
