package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Типы клиентов генерации текста.
const (
	ClientOpenAI = "openai"
	ClientOllama = "ollama"
	ClientNone   = "none"
)

// Config настройки генератора повествования.
type Config struct {
	ClientType      string        `envconfig:"AI_CLIENT_TYPE" default:"none"`
	BaseURL         string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	Model           string        `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	APIKey          string        `envconfig:"AI_API_KEY"`
	Timeout         time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	MaxAttempts     int           `envconfig:"AI_MAX_ATTEMPTS" default:"2"`
	BaseRetryDelay  time.Duration `envconfig:"AI_BASE_RETRY_DELAY" default:"500ms"`
	Temperature     float64       `envconfig:"AI_TEMPERATURE" default:"0.7"`
	TopP            float64       `envconfig:"AI_TOP_P" default:"0.8"`
	MaxTokens       int           `envconfig:"AI_MAX_TOKENS" default:"400"`
	MaxPromptTokens int           `envconfig:"AI_MAX_PROMPT_TOKENS" default:"2000"`
	MaxWords        int           `envconfig:"AI_MAX_WORDS" default:"120"`
}

// LoadConfig читает настройки из переменных окружения.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AI: %w", err)
	}
	cfg.ClientType = strings.ToLower(strings.TrimSpace(cfg.ClientType))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.ClientType {
	case ClientNone, "":
		return nil
	case ClientOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("AI_API_KEY is required for client type %q", c.ClientType)
		}
	case ClientOllama:
	default:
		return fmt.Errorf("unknown AI client type %q", c.ClientType)
	}
	if c.Model == "" {
		return fmt.Errorf("AI_MODEL is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// Enabled сообщает, настроен ли внешний генератор.
func (c Config) Enabled() bool {
	return c.ClientType != "" && c.ClientType != ClientNone
}
