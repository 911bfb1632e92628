// Package config loads termagent settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/termagent/agentloop"
	"github.com/martinemde/termagent/shell"
	"github.com/martinemde/termagent/unifiedllm"
)

// Config holds all termagent configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Shell   ShellConfig   `yaml:"shell"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP interface.
type ServerConfig struct {
	Host             string   `yaml:"host" env:"HOST" validate:"required"`
	Port             int      `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	EnableCORS       bool     `yaml:"enable_cors" env:"ENABLE_CORS"`
	AllowedOrigins   []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageLength int      `yaml:"max_message_length" env:"MAX_MESSAGE_LENGTH" validate:"min=1"`
}

// LLMConfig selects and configures the decision engine.
type LLMConfig struct {
	Provider        string  `yaml:"provider" env:"MODEL_PROVIDER" validate:"oneof=gemini openai anthropic"`
	GeminiAPIKey    string  `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel     string  `yaml:"gemini_model" env:"GEMINI_MODEL"`
	OpenAIAPIKey    string  `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIModel     string  `yaml:"openai_model" env:"OPENAI_MODEL"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string  `yaml:"anthropic_model" env:"ANTHROPIC_MODEL"`
	Temperature     float64 `yaml:"temperature" env:"TEMPERATURE" validate:"gte=0,lte=2"`
	MaxRetries      int     `yaml:"max_retries" env:"LLM_MAX_RETRIES" validate:"gte=0,lte=10"`
}

// AgentConfig bounds a single run.
type AgentConfig struct {
	RecursionLimit int `yaml:"recursion_limit" env:"RECURSION_LIMIT" validate:"min=1"`
	MaxOutputChars int `yaml:"max_output_chars" env:"MAX_OUTPUT_CHARS" validate:"gte=0"`
	MaxOutputLines int `yaml:"max_output_lines" env:"MAX_OUTPUT_LINES" validate:"gte=0"`
}

// ShellConfig describes the interpreter process.
type ShellConfig struct {
	Path    string        `yaml:"path" env:"SHELL_PATH" validate:"required"`
	Args    []string      `yaml:"args" env:"SHELL_ARGS" envSeparator:" "`
	WorkDir string        `yaml:"workdir" env:"SHELL_WORKDIR"`
	Timeout time.Duration `yaml:"timeout" env:"SHELL_TIMEOUT" validate:"gt=0"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sh := shell.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			EnableCORS:       true,
			AllowedOrigins:   []string{"*"},
			MaxMessageLength: 1000,
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			Temperature: 0.1,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			RecursionLimit: agentloop.DefaultBudget,
			MaxOutputChars: agentloop.DefaultMaxOutputChars,
			MaxOutputLines: agentloop.DefaultMaxOutputLines,
		},
		Shell: ShellConfig{
			Path:    sh.Path,
			Args:    sh.Args,
			Timeout: sh.Timeout,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "terminal_agent.log",
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Model returns the model configured for the selected provider, or "" for
// the provider default.
func (c *Config) Model() string {
	switch c.LLM.Provider {
	case "gemini":
		return c.LLM.GeminiModel
	case "openai":
		return c.LLM.OpenAIModel
	case "anthropic":
		return c.LLM.AnthropicModel
	}
	return ""
}

// ProviderSettings maps the LLM section for unifiedllm.NewClientFromSettings.
func (c *Config) ProviderSettings() unifiedllm.ProviderSettings {
	return unifiedllm.ProviderSettings{
		Provider:        c.LLM.Provider,
		Model:           c.Model(),
		Temperature:     c.LLM.Temperature,
		MaxRetries:      c.LLM.MaxRetries,
		GeminiAPIKey:    c.LLM.GeminiAPIKey,
		OpenAIAPIKey:    c.LLM.OpenAIAPIKey,
		AnthropicAPIKey: c.LLM.AnthropicAPIKey,
	}
}

// SessionConfig maps the shell section for shell.NewController.
func (c *Config) SessionConfig() shell.Config {
	return shell.Config{
		Path:    c.Shell.Path,
		Args:    c.Shell.Args,
		WorkDir: c.Shell.WorkDir,
		Timeout: c.Shell.Timeout,
	}
}

// LoopConfig maps the agent section for agentloop.NewLoop.
func (c *Config) LoopConfig() agentloop.LoopConfig {
	lc := agentloop.DefaultLoopConfig()
	lc.Budget = c.Agent.RecursionLimit
	lc.MaxOutputChars = c.Agent.MaxOutputChars
	lc.MaxOutputLines = c.Agent.MaxOutputLines
	return lc
}
