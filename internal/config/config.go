// Package config loads runtime configuration from config.yaml in the config
// directory, with FAMILIAR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file inside the config directory.
const FileName = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. FAMILIAR_LLM_API_KEY.
const EnvPrefix = "FAMILIAR"

// Config holds runtime configuration. API keys are read from the config file or
// the environment; never committed.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Dir is where config.yaml, the database and the profile documents live. Set at runtime.
	Dir string `mapstructure:"-"`
}

type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type StoreConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo builds only).
	Driver string `mapstructure:"driver"`
	// Path defaults to familiar.db in the config directory.
	Path string `mapstructure:"path"`
}

type AgentConfig struct {
	// Window is how many stored messages are sent with each request.
	Window int `mapstructure:"window"`
	// MaxSteps bounds the completion requests per turn, including the final answer.
	MaxSteps int `mapstructure:"max_steps"`
	// Classify enables significance scoring of user messages.
	Classify bool `mapstructure:"classify"`
}

type ToolsConfig struct {
	// MaxOutputRunes caps a tool result sent back to the model; 0 disables truncation.
	MaxOutputRunes int `mapstructure:"max_output_runes"`
	// Disabled tools are neither advertised nor run.
	Disabled []string `mapstructure:"disabled"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfigDir returns the default config directory (project-local .familiar if present,
// else ~/.config/familiar).
func DefaultConfigDir() string {
	cwd, _ := os.Getwd()
	local := filepath.Join(cwd, ".familiar")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "familiar")
}

// ResolveDir picks the config directory: flag value, then FAMILIAR_CONFIG_DIR, then the default.
func ResolveDir(flag string) string {
	if flag != "" {
		return flag
	}
	if d := os.Getenv(EnvPrefix + "_CONFIG_DIR"); d != "" {
		return d
	}
	return DefaultConfigDir()
}

// providerKeyEnv lists the conventional API key variables consulted when llm.api_key is empty.
var providerKeyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"google":    {"GOOGLE_AI_API_KEY", "GEMINI_API_KEY"},
}

// Load reads config.yaml from dir (a missing file is fine) and applies environment overrides.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Dir = dir
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(dir, "familiar.db")
	}
	if cfg.LLM.APIKey == "" {
		for _, name := range providerKeyEnv[cfg.LLM.Provider] {
			if key := os.Getenv(name); key != "" {
				cfg.LLM.APIKey = key
				break
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := providerKeyEnv[c.LLM.Provider]; !ok && c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm.provider %q is not known; set llm.base_url for a custom endpoint", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Agent.Window <= 0 {
		errs = append(errs, errors.New("agent.window must be positive"))
	}
	if c.Agent.MaxSteps < 2 {
		errs = append(errs, errors.New("agent.max_steps must be at least 2"))
	}
	if c.Tools.MaxOutputRunes < 0 {
		errs = append(errs, errors.New("tools.max_output_runes must not be negative"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Path returns the config file location.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, FileName)
}

// Masked returns the configuration as plain maps with the API key hidden, for display.
func (c *Config) Masked() map[string]any {
	return map[string]any{
		"config_dir": c.Dir,
		"llm": map[string]any{
			"provider":    c.LLM.Provider,
			"model":       c.LLM.Model,
			"api_key":     MaskSecret(c.LLM.APIKey),
			"base_url":    c.LLM.BaseURL,
			"timeout":     c.LLM.Timeout.String(),
			"max_retries": c.LLM.MaxRetries,
		},
		"store": map[string]any{"driver": c.Store.Driver, "path": c.Store.Path},
		"agent": map[string]any{
			"window":    c.Agent.Window,
			"max_steps": c.Agent.MaxSteps,
			"classify":  c.Agent.Classify,
		},
		"tools":  map[string]any{"max_output_runes": c.Tools.MaxOutputRunes, "disabled": c.Tools.Disabled},
		"server": map[string]any{"addr": c.Server.Addr},
		"log":    map[string]any{"level": c.Log.Level, "format": c.Log.Format},
		"telemetry": map[string]any{
			"enabled":     c.Telemetry.Enabled,
			"exporter":    c.Telemetry.Exporter,
			"endpoint":    c.Telemetry.Endpoint,
			"sample_rate": c.Telemetry.SampleRate,
		},
	}
}

// MaskSecret keeps the last four characters of s. Empty stays empty.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	}
	return "****" + s[len(s)-4:]
}
