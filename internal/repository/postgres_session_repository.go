package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fiction-server/internal/domain"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	upsertSessionQuery = `
        INSERT INTO sessions (id, player_id, seed, difficulty, settings, current_scene_id, turn_count,
                              character, quests, image_jobs, started_at, last_activity)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO UPDATE SET
            player_id = EXCLUDED.player_id,
            difficulty = EXCLUDED.difficulty,
            settings = EXCLUDED.settings,
            current_scene_id = EXCLUDED.current_scene_id,
            turn_count = EXCLUDED.turn_count,
            character = EXCLUDED.character,
            quests = EXCLUDED.quests,
            image_jobs = EXCLUDED.image_jobs,
            last_activity = EXCLUDED.last_activity`
	getSessionQuery = `
        SELECT id, player_id, seed, difficulty, settings, current_scene_id, turn_count,
               character, quests, image_jobs, started_at, last_activity
        FROM sessions WHERE id = $1`
	listSessionsQuery = `
        SELECT id, player_id, COALESCE(character->>'name', '') AS character_name,
               current_scene_id AS scene_id, turn_count, last_activity
        FROM sessions ORDER BY last_activity DESC LIMIT $1`
	deleteSessionQuery = `DELETE FROM sessions WHERE id = $1`
)

// sessionRow строка таблицы sessions; JSONB колонки читаются как есть.
type sessionRow struct {
	ID             string    `db:"id"`
	PlayerID       string    `db:"player_id"`
	Seed           int64     `db:"seed"`
	Difficulty     string    `db:"difficulty"`
	Settings       []byte    `db:"settings"`
	CurrentSceneID string    `db:"current_scene_id"`
	TurnCount      int       `db:"turn_count"`
	Character      []byte    `db:"character"`
	Quests         []byte    `db:"quests"`
	ImageJobs      []byte    `db:"image_jobs"`
	StartedAt      time.Time `db:"started_at"`
	LastActivity   time.Time `db:"last_activity"`
}

func (r sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		ID:             r.ID,
		PlayerID:       r.PlayerID,
		Seed:           r.Seed,
		Difficulty:     r.Difficulty,
		CurrentSceneID: r.CurrentSceneID,
		TurnCount:      r.TurnCount,
		StartedAt:      r.StartedAt,
		LastActivity:   r.LastActivity,
	}
	if err := json.Unmarshal(r.Settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := json.Unmarshal(r.Character, &s.Character); err != nil {
		return nil, fmt.Errorf("decode character: %w", err)
	}
	if err := json.Unmarshal(r.Quests, &s.Quests); err != nil {
		return nil, fmt.Errorf("decode quests: %w", err)
	}
	if err := json.Unmarshal(r.ImageJobs, &s.ImageJobs); err != nil {
		return nil, fmt.Errorf("decode image jobs: %w", err)
	}
	if s.Quests == nil {
		s.Quests = map[string]domain.QuestUpdate{}
	}
	return s, nil
}

// PostgresSessionStore хранит сессии в PostgreSQL.
type PostgresSessionStore struct {
	db     DBTX
	logger *zap.Logger
}

func NewPostgresSessionStore(db DBTX, logger *zap.Logger) *PostgresSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSessionStore{db: db, logger: logger.Named("PostgresSessionRepo")}
}

func (r *PostgresSessionStore) Save(ctx context.Context, s *domain.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("save session: empty id")
	}
	logFields := []zap.Field{zap.String("sessionID", s.ID), zap.Int("turn", s.TurnCount)}

	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	character, err := json.Marshal(s.Character)
	if err != nil {
		return fmt.Errorf("encode character: %w", err)
	}
	quests := s.Quests
	if quests == nil {
		quests = map[string]domain.QuestUpdate{}
	}
	questsJSON, err := json.Marshal(quests)
	if err != nil {
		return fmt.Errorf("encode quests: %w", err)
	}
	jobs := s.ImageJobs
	if jobs == nil {
		jobs = []string{}
	}
	jobsJSON, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("encode image jobs: %w", err)
	}

	_, err = r.db.Exec(ctx, upsertSessionQuery,
		s.ID, s.PlayerID, s.Seed, s.Difficulty, settings, s.CurrentSceneID, s.TurnCount,
		character, questsJSON, jobsJSON, s.StartedAt, s.LastActivity,
	)
	if err != nil {
		r.logger.Error("Failed to upsert session", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка сохранения сессии %s: %w", s.ID, err)
	}
	r.logger.Debug("Session saved", logFields...)
	return nil
}

func (r *PostgresSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	if err := pgxscan.Get(ctx, r.db, &row, getSessionQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		r.logger.Error("Failed to load session", zap.String("sessionID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка загрузки сессии %s: %w", id, err)
	}
	s, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return s, nil
}

func (r *PostgresSessionStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	var out []domain.SessionSummary
	if err := pgxscan.Select(ctx, r.db, &out, listSessionsQuery, listLimit); err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка сессий: %w", err)
	}
	if out == nil {
		out = []domain.SessionSummary{}
	}
	return out, nil
}

func (r *PostgresSessionStore) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, deleteSessionQuery, id)
	if err != nil {
		r.logger.Error("Failed to delete session", zap.String("sessionID", id), zap.Error(err))
		return fmt.Errorf("ошибка удаления сессии %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}
