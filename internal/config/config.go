// Package config loads and validates the application settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider kinds selectable in settings.
const (
	KindGemini   = "gemini"
	KindOpenAI   = "openai"
	KindOllama   = "ollama"
	KindMaritaca = "maritaca"
	KindCustom   = "custom"
)

// Defaults applied by Load when the settings file omits them.
const (
	DefaultServerPort   = 4517
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultMaritacaURL  = "https://chat.maritaca.ai/api"
	DefaultArchiveDir   = "archives"
	defaultProviderKind = KindOllama
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig `yaml:"server"`
	Provider  string       `yaml:"provider"`
	Model     string       `yaml:"model"`
	Streaming bool         `yaml:"streaming"`
	// ShowReasoning leaves <think> spans visible instead of hiding them.
	ShowReasoning bool            `yaml:"show_reasoning"`
	Providers     ProvidersConfig `yaml:"providers"`
	Functions     []Function      `yaml:"functions"`
	Contexts      []ContextSource `yaml:"contexts"`
	ArchiveDir    string          `yaml:"archive_dir"`
	NotifyCommand string          `yaml:"notify_command"`
}

// ServerConfig defines listener configuration for the local UI API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProvidersConfig catalogues the credential blocks per provider kind.
type ProvidersConfig struct {
	Gemini   ProviderConfig `yaml:"gemini"`
	OpenAI   ProviderConfig `yaml:"openai"`
	Ollama   ProviderConfig `yaml:"ollama"`
	Maritaca ProviderConfig `yaml:"maritaca"`
	Custom   ProviderConfig `yaml:"custom"`
}

// ProviderConfig captures the credentials and endpoint for one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ByKind returns the credential block for a provider kind.
func (p ProvidersConfig) ByKind(kind string) (ProviderConfig, error) {
	switch kind {
	case KindGemini:
		return p.Gemini, nil
	case KindOpenAI:
		return p.OpenAI, nil
	case KindOllama:
		return p.Ollama, nil
	case KindMaritaca:
		return p.Maritaca, nil
	case KindCustom:
		return p.Custom, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// Function is a reusable system prompt the user runs against a provider.
type Function struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	// PromptFile, when set, is read instead of SystemPrompt.
	PromptFile string `yaml:"prompt_file"`
}

// ContextSource is a file or folder whose contents can be injected into
// a run's prompt.
type ContextSource struct {
	ID     string `yaml:"id"`
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"` // "file" or "folder"
	Hidden bool   `yaml:"hidden"`
}

// Load reads YAML configuration from disk, applies defaults and
// validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Provider == "" {
		c.Provider = defaultProviderKind
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = DefaultOllamaURL
	}
	if c.Providers.Maritaca.BaseURL == "" {
		c.Providers.Maritaca.BaseURL = DefaultMaritacaURL
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = DefaultArchiveDir
	}
}

// Validate performs strict sanity checks on the configuration. Error
// messages name the offending field so misconfiguration surfaces before
// any network call.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if _, err := c.Providers.ByKind(c.Provider); err != nil {
		return fmt.Errorf("provider must be one of gemini, openai, ollama, maritaca or custom, got %q", c.Provider)
	}

	seenFuncs := make(map[string]struct{}, len(c.Functions))
	for _, fn := range c.Functions {
		if strings.TrimSpace(fn.ID) == "" {
			return fmt.Errorf("function %q: id must not be empty", fn.Name)
		}
		if _, dup := seenFuncs[fn.ID]; dup {
			return fmt.Errorf("function id %q declared twice", fn.ID)
		}
		seenFuncs[fn.ID] = struct{}{}
		if strings.TrimSpace(fn.SystemPrompt) == "" && strings.TrimSpace(fn.PromptFile) == "" {
			return fmt.Errorf("function %q: either system_prompt or prompt_file must be set", fn.ID)
		}
	}

	seenContexts := make(map[string]struct{}, len(c.Contexts))
	for _, src := range c.Contexts {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("context source %q: id must not be empty", src.Path)
		}
		if _, dup := seenContexts[src.ID]; dup {
			return fmt.Errorf("context source id %q declared twice", src.ID)
		}
		seenContexts[src.ID] = struct{}{}
		if strings.TrimSpace(src.Path) == "" {
			return fmt.Errorf("context source %q: path must not be empty", src.ID)
		}
		if src.Kind != "file" && src.Kind != "folder" {
			return fmt.Errorf("context source %q: kind must be \"file\" or \"folder\", got %q", src.ID, src.Kind)
		}
	}

	return nil
}

// FunctionByID finds a configured function.
func (c Config) FunctionByID(id string) (Function, error) {
	for _, fn := range c.Functions {
		if fn.ID == id {
			return fn, nil
		}
	}
	return Function{}, fmt.Errorf("unknown function %q", id)
}

// ResolvePrompt returns the function's system prompt, reading the prompt
// file when one is configured.
func (f Function) ResolvePrompt() (string, error) {
	if f.PromptFile == "" {
		return f.SystemPrompt, nil
	}
	data, err := os.ReadFile(f.PromptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file for function %q: %w", f.ID, err)
	}
	return string(data), nil
}
