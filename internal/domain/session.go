package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AgeRating возрастной рейтинг сессии.
type AgeRating string

const (
	RatingTeen  AgeRating = "Teen"
	RatingAdult AgeRating = "Adult"
)

// Settings настройки сессии.
type Settings struct {
	AgeRating     AgeRating `json:"age_rating"`
	ImageQuality  ImageMode `json:"image_quality"`
	ImagesEnabled bool      `json:"images_enabled"`
	AutoSave      bool      `json:"auto_save"`
}

// DefaultSettings настройки новой сессии.
func DefaultSettings() Settings {
	return Settings{
		AgeRating:     RatingTeen,
		ImageQuality:  ImageModePreview,
		ImagesEnabled: true,
		AutoSave:      true,
	}
}

// Session игровая сессия.
type Session struct {
	ID             string                 `json:"id" db:"id"`
	PlayerID       string                 `json:"player_id" db:"player_id"`
	Seed           int64                  `json:"seed" db:"seed"`
	Difficulty     string                 `json:"difficulty" db:"difficulty"`
	Settings       Settings               `json:"settings" db:"settings"`
	CurrentSceneID string                 `json:"current_scene_id" db:"current_scene_id"`
	TurnCount      int                    `json:"turn_count" db:"turn_count"`
	Character      *Character             `json:"character" db:"character"`
	Quests         map[string]QuestUpdate `json:"quests,omitempty" db:"quests"`
	ImageJobs      []string               `json:"image_jobs,omitempty" db:"image_jobs"` // Последние задания на изображения
	StartedAt      time.Time              `json:"started_at" db:"started_at"`
	LastActivity   time.Time              `json:"last_activity" db:"last_activity"`
}

const maxTrackedImageJobs = 20

// NewSession создаёт сессию со стартовым персонажем в стартовой сцене.
func NewSession(id, playerID string, seed int64, now time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:             id,
		PlayerID:       playerID,
		Seed:           seed,
		Difficulty:     "normal",
		Settings:       DefaultSettings(),
		CurrentSceneID: DefaultSceneID,
		Character:      NewCharacter(""),
		Quests:         map[string]QuestUpdate{},
		StartedAt:      now,
		LastActivity:   now,
	}
}

// TrackImageJob запоминает задание, храня только последние.
func (s *Session) TrackImageJob(jobID string) {
	s.ImageJobs = append(s.ImageJobs, jobID)
	if len(s.ImageJobs) > maxTrackedImageJobs {
		s.ImageJobs = s.ImageJobs[len(s.ImageJobs)-maxTrackedImageJobs:]
	}
}

// Clone делает глубокую копию сессии.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Character = s.Character.Clone()
	cp.Quests = make(map[string]QuestUpdate, len(s.Quests))
	for k, v := range s.Quests {
		cp.Quests[k] = v
	}
	cp.ImageJobs = append([]string(nil), s.ImageJobs...)
	return &cp
}

// Summary краткая информация о сессии для списков.
func (s *Session) Summary() SessionSummary {
	name := ""
	if s.Character != nil {
		name = s.Character.Name
	}
	return SessionSummary{
		ID:            s.ID,
		PlayerID:      s.PlayerID,
		CharacterName: name,
		SceneID:       s.CurrentSceneID,
		TurnCount:     s.TurnCount,
		LastActivity:  s.LastActivity,
	}
}

// SessionSummary элемент списка сессий.
type SessionSummary struct {
	ID            string    `json:"id" db:"id"`
	PlayerID      string    `json:"player_id" db:"player_id"`
	CharacterName string    `json:"character_name" db:"character_name"`
	SceneID       string    `json:"scene_id" db:"scene_id"`
	TurnCount     int       `json:"turn_count" db:"turn_count"`
	LastActivity  time.Time `json:"last_activity" db:"last_activity"`
}

// ToolCall запись о вызове инструмента.
type ToolCall struct {
	Step       int            `json:"step"`
	Tool       ToolName       `json:"tool"`
	Seed       int64          `json:"seed"`
	ResultKind ToolResultKind `json:"result_kind"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// TraceOutput промежуточный результат хода (план, вердикт, ошибка).
type TraceOutput struct {
	Type    string    `json:"type"`
	Content any       `json:"content"`
	At      time.Time `json:"at"`
}

// Trace журнал одного хода для воспроизведения и отладки.
type Trace struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	SceneID     string        `json:"scene_id"`
	Turn        int           `json:"turn"`
	PlayerInput string        `json:"player_input"`
	PromptHash  string        `json:"prompt_hash"`
	ToolCalls   []ToolCall    `json:"tool_calls"`
	RNGSeeds    []int64       `json:"rng_seeds"`
	Outputs     []TraceOutput `json:"outputs"`
	FinalState  TurnState     `json:"final_state"`
	Recovered   bool          `json:"recovered"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// NewTrace создаёт журнал хода.
func NewTrace(sessionID, sceneID string, turn int, input string, now time.Time) *Trace {
	sum := sha256.Sum256([]byte(sceneID + "\x00" + input))
	return &Trace{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		SceneID:     sceneID,
		Turn:        turn,
		PlayerInput: input,
		PromptHash:  hex.EncodeToString(sum[:8]),
		ToolCalls:   []ToolCall{},
		RNGSeeds:    []int64{},
		Outputs:     []TraceOutput{},
		StartedAt:   now,
	}
}

func (t *Trace) AddToolCall(call ToolCall) {
	t.ToolCalls = append(t.ToolCalls, call)
}

func (t *Trace) AddSeed(seed int64) {
	t.RNGSeeds = append(t.RNGSeeds, seed)
}

func (t *Trace) AddOutput(kind string, content any, at time.Time) {
	t.Outputs = append(t.Outputs, TraceOutput{Type: kind, Content: content, At: at})
}
