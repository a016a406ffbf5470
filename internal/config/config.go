package config

import (
	"fmt"
	"strings"
	"time"

	"fiction-server/internal/database"
	"fiction-server/internal/logger"
	"fiction-server/internal/service"
	"fiction-server/pkg/imagejobs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Хранилища сессий.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config содержит конфигурацию приложения.
type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	Logger   logger.Config
	Server   ServerConfig
	Storage  StorageConfig
	Database database.Config
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Engine   EngineConfig
	Images   ImagesConfig
}

// ServerConfig содержит конфигурацию HTTP сервера.
type ServerConfig struct {
	Port           int           `env:"SERVER_PORT" env-default:"8080"`
	BasePath       string        `env:"SERVER_BASE_PATH" env-default:"/api"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://localhost:8080"`
}

// StorageConfig выбор хранилищ сессий и журналов ходов.
type StorageConfig struct {
	Sessions   string        `env:"SESSION_STORE" env-default:"memory"` // memory, postgres, redis
	Traces     string        `env:"TRACE_STORE" env-default:"memory"`   // memory, postgres
	TraceLimit int           `env:"TRACE_MEMORY_LIMIT" env-default:"200"`
	SessionTTL time.Duration `env:"SESSION_TTL" env-default:"24h"`
	IdleEvict  time.Duration `env:"SESSION_IDLE_EVICT" env-default:"30m"`
}

// RedisConfig содержит конфигурацию Redis.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// RabbitMQConfig пустой URL отключает публикацию событий изображений.
type RabbitMQConfig struct {
	URL        string `env:"RABBITMQ_URL" env-default:""`
	EventQueue string `env:"IMAGE_EVENTS_QUEUE" env-default:"image_job_events"`
}

// EngineConfig параметры оркестратора ходов.
type EngineConfig struct {
	MaxRevisions        int           `env:"ENGINE_MAX_REVISIONS" env-default:"2"`
	MaxTransitions      int           `env:"ENGINE_MAX_TRANSITIONS" env-default:"32"`
	ChoiceCount         int           `env:"ENGINE_CHOICE_COUNT" env-default:"4"`
	MaxWords            int           `env:"ENGINE_MAX_WORDS" env-default:"120"`
	NarrationTimeout    time.Duration `env:"ENGINE_NARRATION_TIMEOUT" env-default:"20s"`
	CritDoublesModifier bool          `env:"ENGINE_CRIT_DOUBLES_MODIFIER" env-default:"false"`
	ContentPath         string        `env:"CONTENT_PATH" env-default:""` // Пусто = встроенные сцены
}

// ImagesConfig параметры конвейера изображений.
type ImagesConfig struct {
	Enabled        bool          `env:"IMAGES_ENABLED" env-default:"true"`
	PreviewTimeout time.Duration `env:"IMAGES_PREVIEW_TIMEOUT" env-default:"5s"`
	HQTimeout      time.Duration `env:"IMAGES_HQ_TIMEOUT" env-default:"20s"`
	MaxAttempts    int           `env:"IMAGES_MAX_ATTEMPTS" env-default:"3"`
	BaseBackoff    time.Duration `env:"IMAGES_BASE_BACKOFF" env-default:"1s"`
	Retention      time.Duration `env:"IMAGES_RETENTION" env-default:"1h"`
	SweepInterval  time.Duration `env:"IMAGES_SWEEP_INTERVAL" env-default:"1m"`
	MaxActive      int           `env:"IMAGES_MAX_ACTIVE" env-default:"64"`
}

// Load загружает конфигурацию из .env файла и переменных окружения.
func Load() (*Config, error) {
	// .env может отсутствовать
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	c.Storage.Sessions = strings.ToLower(strings.TrimSpace(c.Storage.Sessions))
	c.Storage.Traces = strings.ToLower(strings.TrimSpace(c.Storage.Traces))
	switch c.Storage.Sessions {
	case StorageMemory, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("неизвестное хранилище сессий %q", c.Storage.Sessions)
	}
	switch c.Storage.Traces {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("неизвестное хранилище журналов %q", c.Storage.Traces)
	}
	if c.Engine.MaxRevisions < 0 {
		return fmt.Errorf("ENGINE_MAX_REVISIONS не может быть отрицательным")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("некорректный SERVER_PORT %d", c.Server.Port)
	}
	return nil
}

// NeedsDatabase нужен ли PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Sessions == StoragePostgres || c.Storage.Traces == StoragePostgres
}

// ServiceConfig параметры для service.NewOrchestrator.
func (c *Config) ServiceConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.MaxRevisions = c.Engine.MaxRevisions
	cfg.MaxTransitions = c.Engine.MaxTransitions
	cfg.ChoiceCount = c.Engine.ChoiceCount
	cfg.MaxWords = c.Engine.MaxWords
	cfg.NarrationTimeout = c.Engine.NarrationTimeout
	cfg.ImagesEnabled = c.Images.Enabled
	return cfg
}

// PipelineConfig параметры для imagejobs.New.
func (c *Config) PipelineConfig() imagejobs.Config {
	return imagejobs.Config{
		PreviewTimeout: c.Images.PreviewTimeout,
		HQTimeout:      c.Images.HQTimeout,
		MaxAttempts:    c.Images.MaxAttempts,
		BaseBackoff:    c.Images.BaseBackoff,
		Retention:      c.Images.Retention,
		SweepInterval:  c.Images.SweepInterval,
		MaxActive:      c.Images.MaxActive,
	}
}
