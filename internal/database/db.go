package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Connect создаёт пул соединений и проверяет подключение
func Connect(ctx context.Context, dsn string, maxConns int, idleTimeout time.Duration, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	if idleTimeout > 0 {
		config.MaxConnIdleTime = idleTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.ConnConfig.Host),
		zap.Int32("maxConns", config.MaxConns),
	)
	return pool, nil
}

// Open подключается по конфигурации приложения
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	return Connect(ctx, cfg.DSN(), cfg.MaxConns, cfg.IdleTimeout, logger)
}
