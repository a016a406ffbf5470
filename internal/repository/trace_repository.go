package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fiction-server/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	insertTraceQuery = `
        INSERT INTO turn_traces (id, session_id, scene_id, turn, player_input, prompt_hash,
                                 tool_calls, rng_seeds, outputs, final_state, recovered, started_at, finished_at)
        VALUES (:id, :session_id, :scene_id, :turn, :player_input, :prompt_hash,
                :tool_calls, :rng_seeds, :outputs, :final_state, :recovered, :started_at, :finished_at)`
	listTracesQuery = `
        SELECT id, session_id, scene_id, turn, player_input, prompt_hash,
               tool_calls, rng_seeds, outputs, final_state, recovered, started_at, finished_at
        FROM turn_traces WHERE session_id = $1
        ORDER BY turn DESC, started_at DESC LIMIT $2`
)

// traceRow строка turn_traces. JSONB передаётся строкой: lib/pq отправляет
// []byte как bytea.
type traceRow struct {
	ID          string        `db:"id"`
	SessionID   string        `db:"session_id"`
	SceneID     string        `db:"scene_id"`
	Turn        int           `db:"turn"`
	PlayerInput string        `db:"player_input"`
	PromptHash  string        `db:"prompt_hash"`
	ToolCalls   string        `db:"tool_calls"`
	RNGSeeds    pq.Int64Array `db:"rng_seeds"`
	Outputs     string        `db:"outputs"`
	FinalState  string        `db:"final_state"`
	Recovered   bool          `db:"recovered"`
	StartedAt   time.Time     `db:"started_at"`
	FinishedAt  time.Time     `db:"finished_at"`
}

func newTraceRow(t *domain.Trace) (traceRow, error) {
	calls := t.ToolCalls
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	callsJSON, err := json.Marshal(calls)
	if err != nil {
		return traceRow{}, fmt.Errorf("encode tool calls: %w", err)
	}
	outputs := t.Outputs
	if outputs == nil {
		outputs = []domain.TraceOutput{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return traceRow{}, fmt.Errorf("encode outputs: %w", err)
	}
	seeds := t.RNGSeeds
	if seeds == nil {
		seeds = []int64{}
	}
	return traceRow{
		ID:          t.ID,
		SessionID:   t.SessionID,
		SceneID:     t.SceneID,
		Turn:        t.Turn,
		PlayerInput: t.PlayerInput,
		PromptHash:  t.PromptHash,
		ToolCalls:   string(callsJSON),
		RNGSeeds:    pq.Int64Array(seeds),
		Outputs:     string(outputsJSON),
		FinalState:  string(t.FinalState),
		Recovered:   t.Recovered,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
	}, nil
}

func (r traceRow) toDomain() (*domain.Trace, error) {
	t := &domain.Trace{
		ID:          r.ID,
		SessionID:   r.SessionID,
		SceneID:     r.SceneID,
		Turn:        r.Turn,
		PlayerInput: r.PlayerInput,
		PromptHash:  r.PromptHash,
		RNGSeeds:    []int64(r.RNGSeeds),
		FinalState:  domain.TurnState(r.FinalState),
		Recovered:   r.Recovered,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if err := json.Unmarshal([]byte(r.ToolCalls), &t.ToolCalls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Outputs), &t.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return t, nil
}

// TraceRepository журнал ходов в PostgreSQL.
type TraceRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewTraceRepository(db *sqlx.DB, logger *zap.Logger) *TraceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceRepository{db: db, logger: logger.Named("TraceRepo")}
}

func (r *TraceRepository) Append(ctx context.Context, t *domain.Trace) error {
	if t == nil {
		return fmt.Errorf("append trace: nil trace")
	}
	row, err := newTraceRow(t)
	if err != nil {
		return fmt.Errorf("trace %s: %w", t.ID, err)
	}
	if _, err := r.db.NamedExecContext(ctx, insertTraceQuery, row); err != nil {
		r.logger.Error("Failed to insert trace",
			zap.String("sessionID", t.SessionID), zap.Int("turn", t.Turn), zap.Error(err))
		return fmt.Errorf("ошибка записи журнала хода: %w", err)
	}
	return nil
}

// ListBySession возвращает последние limit записей, новые первыми.
func (r *TraceRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error) {
	var rows []traceRow
	if err := r.db.SelectContext(ctx, &rows, listTracesQuery, sessionID, limit); err != nil {
		r.logger.Error("Failed to list traces", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("ошибка чтения журнала ходов: %w", err)
	}
	out := make([]*domain.Trace, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", row.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}
