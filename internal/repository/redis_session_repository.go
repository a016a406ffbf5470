package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fiction-server/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionKeyPrefix = "fiction:session:"
	// Sorted set: member = id сессии, score = время последней активности.
	sessionActivityKey = "fiction:sessions:activity"
)

// RedisSessionStore кэширует сессии в Redis с TTL.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSessionStore создаёт хранилище. ttl <= 0 означает хранение без срока.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{client: client, ttl: ttl, logger: logger.Named("RedisSessionRepo")}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisSessionStore) Save(ctx context.Context, s *domain.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("save session: empty id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, r.ttl)
	pipe.ZAdd(ctx, sessionActivityKey, redis.Z{Score: float64(s.LastActivity.UnixMilli()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to save session to Redis", zap.String("sessionID", s.ID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения сессии %s в Redis: %w", s.ID, err)
	}
	return nil
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		r.logger.Error("Failed to load session from Redis", zap.String("sessionID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка загрузки сессии %s из Redis: %w", id, err)
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.Quests == nil {
		s.Quests = map[string]domain.QuestUpdate{}
	}
	return &s, nil
}

// List читает индекс активности. Истёкшие по TTL сессии удаляются из индекса.
func (r *RedisSessionStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	ids, err := r.client.ZRevRange(ctx, sessionActivityKey, 0, listLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса сессий: %w", err)
	}
	out := make([]domain.SessionSummary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ошибка чтения сессий: %w", err)
	}

	var stale []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		var s domain.Session
		if err := json.Unmarshal(data, &s); err != nil {
			r.logger.Warn("Skipping undecodable session", zap.String("sessionID", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, s.Summary())
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, sessionActivityKey, stale...).Err(); err != nil {
			r.logger.Warn("Failed to prune session index", zap.Int("count", len(stale)), zap.Error(err))
		}
	}
	return out, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, sessionKey(id))
	pipe.ZRem(ctx, sessionActivityKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка удаления сессии %s из Redis: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}
