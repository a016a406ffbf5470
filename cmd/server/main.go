package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fiction-server/internal/config"
	"fiction-server/internal/content"
	"fiction-server/internal/database"
	deliveryhttp "fiction-server/internal/delivery/http"
	"fiction-server/internal/delivery/websocket"
	"fiction-server/internal/logger"
	"fiction-server/internal/messaging"
	"fiction-server/internal/repository"
	"fiction-server/internal/service"
	"fiction-server/internal/world"
	"fiction-server/pkg/ai"
	"fiction-server/pkg/dice"
	"fiction-server/pkg/imagejobs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Запуск fiction-server", zap.String("env", cfg.AppEnv), zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Сервер завершился с ошибкой", zap.Error(err))
	}
	zapLogger.Info("Сервер остановлен")
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	store, err := loadContent(cfg.Engine.ContentPath, zapLogger)
	if err != nil {
		return err
	}
	if problems := store.Validate(); len(problems) > 0 {
		zapLogger.Warn("Content has dangling references", zap.Strings("problems", problems))
	}

	deps := service.Dependencies{
		World:   world.NewStore(zapLogger),
		Content: store,
		Roller:  dice.New(),
	}
	deps.Combat.CriticalDoublesModifier = cfg.Engine.CritDoublesModifier
	healthChecks := map[string]deliveryhttp.HealthCheck{}

	// --- Хранилища ---
	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		dsn := cfg.Database.DSN()
		if err := database.ApplyMigrations(dsn, zapLogger); err != nil {
			return fmt.Errorf("миграции: %w", err)
		}
		pool, err = database.Open(ctx, cfg.Database, zapLogger)
		if err != nil {
			return fmt.Errorf("подключение к БД: %w", err)
		}
		defer pool.Close()
		healthChecks["postgres"] = pool.Ping
	}

	switch cfg.Storage.Sessions {
	case config.StoragePostgres:
		deps.Sessions = repository.NewPostgresSessionStore(pool, zapLogger)
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("подключение к Redis: %w", err)
		}
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		deps.Sessions = repository.NewRedisSessionStore(rdb, cfg.Storage.SessionTTL, zapLogger)
	default:
		deps.Sessions = repository.NewMemorySessionStore()
	}

	switch cfg.Storage.Traces {
	case config.StoragePostgres:
		traceDB, err := sqlx.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("подключение журнала ходов: %w", err)
		}
		defer traceDB.Close()
		traceDB.SetMaxOpenConns(cfg.Database.MaxConns)
		deps.Traces = repository.NewTraceRepository(traceDB, zapLogger)
	default:
		deps.Traces = repository.NewMemoryTraceLog(cfg.Storage.TraceLimit)
	}

	// --- Генератор повествования ---
	libLogger := logger.NewZerolog(cfg.Logger, os.Stdout)
	aiCfg, err := ai.LoadConfig()
	if err != nil {
		return err
	}
	if aiCfg.Enabled() {
		client, err := ai.NewClient(*aiCfg, libLogger)
		if err != nil {
			return fmt.Errorf("AI клиент: %w", err)
		}
		deps.Generator = ai.NewNarrator(client, *aiCfg, libLogger)
	} else {
		zapLogger.Info("AI narration disabled, template narration will be used")
	}

	// --- Изображения и push-обновления ---
	wsManager := websocket.NewManager(nil, zapLogger)
	go wsManager.Run(ctx)

	var (
		pipeline  *imagejobs.Pipeline
		publisher *messaging.ImageEventPublisher
	)
	if cfg.Images.Enabled {
		pipeline = imagejobs.New(cfg.PipelineConfig(), imagejobs.NewMockGenerator(), libLogger)
		pipeline.OnUpdate(wsManager.HandleImageUpdate)
		pipeline.Start(ctx)
		deps.Images = pipeline

		if cfg.RabbitMQ.URL != "" {
			conn, err := connectRabbitMQ(ctx, cfg.RabbitMQ.URL, zapLogger)
			if err != nil {
				return fmt.Errorf("подключение к RabbitMQ: %w", err)
			}
			defer conn.Close()
			publisher, err = messaging.NewImageEventPublisher(conn, cfg.RabbitMQ.EventQueue, zapLogger)
			if err != nil {
				return err
			}
			// Останавливается только через Close, после финальных статусов пайплайна.
			go publisher.Run(context.WithoutCancel(ctx))
			defer publisher.Close(context.Background())
			pipeline.OnUpdate(publisher.Handle)
		}
	}

	orchestrator := service.NewOrchestrator(cfg.ServiceConfig(), deps, zapLogger)
	go evictIdleSessions(ctx, orchestrator, cfg.Storage.IdleEvict, zapLogger)

	// --- HTTP ---
	handler := deliveryhttp.New(orchestrator, deps.Roller, wsManager, zapLogger)
	router := deliveryhttp.NewRouter(handler, deliveryhttp.RouterConfig{
		BasePath:       cfg.Server.BasePath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebSocket:      wsManager.Handler(),
		HealthChecks:   healthChecks,
	}, zapLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP сервер: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при остановке HTTP сервера", zap.Error(err))
	}
	// Сохраняем все активные сессии перед выходом.
	flushed := orchestrator.EvictIdle(shutdownCtx, 0)
	zapLogger.Info("Active sessions flushed", zap.Int("count", flushed))
	if pipeline != nil {
		if err := pipeline.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("Image pipeline shutdown incomplete", zap.Error(err))
		}
	}
	if publisher != nil {
		if err := publisher.Close(shutdownCtx); err != nil {
			zapLogger.Warn("Image event publisher close failed", zap.Error(err))
		}
	}
	return nil
}

func loadContent(path string, zapLogger *zap.Logger) (*content.Store, error) {
	if path == "" {
		return content.LoadEmbedded(zapLogger)
	}
	return content.LoadDir(path, zapLogger)
}

func evictIdleSessions(ctx context.Context, orchestrator service.OrchestratorService, maxIdle time.Duration, zapLogger *zap.Logger) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orchestrator.EvictIdle(ctx, maxIdle); n > 0 {
				zapLogger.Info("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func connectRabbitMQ(ctx context.Context, url string, zapLogger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		zapLogger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, err
}
