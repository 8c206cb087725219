package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
)

// Supported model providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config aggregates every setting of the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Storage   StorageConfig   `yaml:"storage"`
	Screening ScreeningConfig `yaml:"screening"`
	Log       LogConfig       `yaml:"log"`
	// Protocols override the built-in catalog by id.
	Protocols []protocol.Protocol `yaml:"protocols"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Model: ModelConfig{
			Provider:      ProviderOllama,
			Name:          "gemma3-medical",
			PregnancyName: "pregnancy-assistant",
			OllamaBaseURL: "http://localhost:11434",
			ArkBaseURL:    "https://ark.cn-beijing.volces.com/api/v3",
			ArkRegion:     "cn-beijing",
			MinAge:        12,
		},
		Storage:   StorageConfig{Dir: "data/sessions"},
		Screening: ScreeningConfig{HistoryLimit: 12},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads the optional YAML file named by CONFIG_PATH (default
// config.yaml) and then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// environment variables take precedence over the file
func (c *Config) applyEnv() error {
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)

	m := &c.Model
	m.Provider = strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", m.Provider))
	m.Name = getEnvOrDefault("MODEL_NAME", m.Name)
	m.PregnancyName = getEnvOrDefault("PREGNANCY_MODEL_NAME", m.PregnancyName)
	m.OllamaBaseURL = getEnvOrDefault("OLLAMA_BASE_URL", m.OllamaBaseURL)
	m.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", m.OpenAIAPIKey)
	m.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", m.OpenAIBaseURL)
	m.ArkAPIKey = getEnvOrDefault("ARK_API_KEY", m.ArkAPIKey)
	m.ArkAccessKey = getEnvOrDefault("ARK_ACCESS_KEY", m.ArkAccessKey)
	m.ArkSecretKey = getEnvOrDefault("ARK_SECRET_KEY", m.ArkSecretKey)
	m.ArkBaseURL = getEnvOrDefault("ARK_BASE_URL", m.ArkBaseURL)
	m.ArkRegion = getEnvOrDefault("ARK_REGION", m.ArkRegion)

	temperature, err := parseOptionalFloatEnv("MODEL_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		m.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("MODEL_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		m.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("MODEL_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		m.MaxTokens = maxTokens
	}

	timeout, err := parseOptionalDurationEnv("MODEL_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		m.Timeout = *timeout
	}

	window, err := parseOptionalIntEnv("HISTORY_WINDOW")
	if err != nil {
		return err
	}
	if window != nil {
		m.HistoryWindow = *window
	}
	if m.HistoryWindow < 0 {
		m.HistoryWindow = 0
	}

	minAge, err := parseOptionalIntEnv("MIN_GYNECOLOGY_AGE")
	if err != nil {
		return err
	}
	if minAge != nil {
		m.MinAge = *minAge
	}

	c.Storage.Dir = getEnvOrDefault("SESSION_DIR", c.Storage.Dir)
	if c.Storage.Overwrite, err = parseBoolEnv("STORE_OVERWRITE", c.Storage.Overwrite); err != nil {
		return err
	}

	if c.Screening.LLMEnabled, err = parseBoolEnv("SCREENING_LLM_ENABLED", c.Screening.LLMEnabled); err != nil {
		return err
	}
	limit, err := parseOptionalIntEnv("SCREENING_HISTORY_LIMIT")
	if err != nil {
		return err
	}
	if limit != nil {
		c.Screening.HistoryLimit = *limit
	}
	if c.Screening.HistoryLimit < 1 {
		c.Screening.HistoryLimit = 1
	}

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	switch m.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderArk:
	default:
		return fmt.Errorf("invalid MODEL_PROVIDER value: %q", m.Provider)
	}
	return nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
	Addr string `yaml:"-"`
}

// listenAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// ModelConfig describes the language model backend.
type ModelConfig struct {
	Provider      string        `yaml:"provider"`
	Name          string        `yaml:"name"`
	PregnancyName string        `yaml:"pregnancy_name"`
	OllamaBaseURL string        `yaml:"ollama_base_url"`
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	ArkAPIKey     string        `yaml:"ark_api_key"`
	ArkAccessKey  string        `yaml:"ark_access_key"`
	ArkSecretKey  string        `yaml:"ark_secret_key"`
	ArkBaseURL    string        `yaml:"ark_base_url"`
	ArkRegion     string        `yaml:"ark_region"`
	Temperature   *float64      `yaml:"temperature"`
	TopP          *float64      `yaml:"top_p"`
	MaxTokens     *int          `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	HistoryWindow int           `yaml:"history_window"`
	MinAge        int           `yaml:"min_gynecology_age"`
}

// StorageConfig describes the session directory.
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	Overwrite bool   `yaml:"overwrite"`
}

// ScreeningConfig controls the pregnancy classifier.
type ScreeningConfig struct {
	LLMEnabled   bool `yaml:"llm_enabled"`
	HistoryLimit int  `yaml:"history_limit"`
}

// LogConfig controls klog verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Verbosity maps the level to a klog -v value. Numeric levels are used as is.
func (l LogConfig) Verbosity() int {
	level := strings.ToLower(strings.TrimSpace(l.Level))
	if n, err := strconv.Atoi(level); err == nil && n >= 0 {
		return n
	}
	switch level {
	case "error", "warn", "warning":
		return 0
	case "debug":
		return 2
	case "trace":
		return 4
	default:
		return 1
	}
}

// Enabled reports whether the provider has what it needs to make calls.
func (c ModelConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOllama:
		return c.OllamaBaseURL != ""
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case ProviderArk:
		return c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != "")
	}
	return false
}

// ApplyProtocols stamps configured model names and the minimum age onto the
// protocol catalog.
func (c ModelConfig) ApplyProtocols(items []protocol.Protocol) []protocol.Protocol {
	out := make([]protocol.Protocol, 0, len(items))
	for _, p := range items {
		switch p.ID {
		case protocol.Gynecology:
			if c.Name != "" {
				p.Model = c.Name
			}
			p.MinAge = c.MinAge
		case protocol.Pregnancy:
			if c.PregnancyName != "" {
				p.Model = c.PregnancyName
			}
		}
		out = append(out, p)
	}
	return out
}

// Catalog returns the built-in protocols with the model settings and the
// file's protocol overrides applied. A model set on a protocol override wins
// over MODEL_NAME and PREGNANCY_MODEL_NAME.
func (c *Config) Catalog() ([]protocol.Protocol, error) {
	items, err := protocol.Merge(c.Model.ApplyProtocols(protocol.Seed()), c.Protocols)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol configuration: %w", err)
	}
	return items, nil
}

// NewChatModel creates the chat model serving protocol p. Sampling values set
// in the configuration override the protocol defaults.
func (c ModelConfig) NewChatModel(ctx context.Context, p protocol.Protocol) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model provider %q is missing credentials or endpoint", c.Provider)
	}

	modelName := p.Model
	if modelName == "" {
		modelName = c.Name
	}
	if modelName == "" {
		return nil, fmt.Errorf("no model name configured for protocol %s", p.ID)
	}

	temperature := p.Temperature
	if c.Temperature != nil {
		temperature = float32(*c.Temperature)
	}

	topP := p.TopP
	if c.TopP != nil {
		topP = float32(*c.TopP)
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.ArkBaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})

	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.OpenAIAPIKey,
			BaseURL:     c.OpenAIBaseURL,
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})

	default:
		// Ollama serves an OpenAI-compatible API under /v1.
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      ProviderOllama,
			BaseURL:     strings.TrimRight(c.OllamaBaseURL, "/") + "/v1",
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseOptionalDurationEnv accepts Go durations ("45s") or whole seconds.
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &d, nil
}
