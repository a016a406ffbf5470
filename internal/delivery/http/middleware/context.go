package middleware

import "context"

// Ключи контекста
type contextKey string

const (
	playerIDKey  contextKey = "player_id"
	requestIDKey contextKey = "request_id"
)

// GetPlayerIDFromContext извлекает ID игрока из контекста
func GetPlayerIDFromContext(ctx context.Context) (string, bool) {
	playerID, ok := ctx.Value(playerIDKey).(string)
	return playerID, ok && playerID != ""
}

// GetRequestIDFromContext извлекает ID запроса из контекста
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPlayerID кладёт ID игрока в контекст.
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, playerIDKey, playerID)
}
