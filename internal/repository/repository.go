package repository

import (
	"context"

	"fiction-server/internal/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX общий интерфейс пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Максимум сессий в списке.
const listLimit = 100

var (
	_ service.SessionStore  = (*MemorySessionStore)(nil)
	_ service.SessionStore  = (*PostgresSessionStore)(nil)
	_ service.SessionStore  = (*RedisSessionStore)(nil)
	_ service.TraceRecorder = (*MemoryTraceLog)(nil)
	_ service.TraceRecorder = (*TraceRepository)(nil)
)
