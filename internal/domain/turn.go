package domain

import (
	"slices"
	"strings"
	"time"
)

// TurnState состояние конечного автомата хода.
type TurnState string

const (
	StateIdle       TurnState = "idle"
	StatePlan       TurnState = "plan"
	StateToolExec   TurnState = "tool_exec"
	StateReduce     TurnState = "reduce"
	StateSafety     TurnState = "safety"
	StateRender     TurnState = "render"
	StateAwaitInput TurnState = "await_input"
	StateRecover    TurnState = "recover"
)

// AllStates все состояния автомата.
var AllStates = []TurnState{
	StateIdle, StatePlan, StateToolExec, StateReduce,
	StateSafety, StateRender, StateAwaitInput, StateRecover,
}

func (s TurnState) IsValid() bool {
	return slices.Contains(AllStates, s)
}

// IsResting сообщает, что автомат ждёт следующего хода.
func (s TurnState) IsResting() bool {
	return s == StateIdle || s == StateAwaitInput
}

// ActionLogType тип записи журнала действий.
type ActionLogType string

const (
	LogCheck     ActionLogType = "check"
	LogAttack    ActionLogType = "attack"
	LogSave      ActionLogType = "save"
	LogInventory ActionLogType = "inventory"
	LogWorld     ActionLogType = "world"
	LogImage     ActionLogType = "image"
	LogError     ActionLogType = "error"
	LogSystem    ActionLogType = "system"
)

// ActionLogEntry запись журнала действий, видимая игроку.
type ActionLogEntry struct {
	Type           ActionLogType  `json:"type"`
	Ability        Ability        `json:"ability,omitempty"`
	Skill          string         `json:"skill,omitempty"`
	Proficient     bool           `json:"proficient,omitempty"`
	Roll           int            `json:"roll,omitempty"` // Натуральный d20
	Rolls          []int          `json:"rolls,omitempty"`
	Modifier       int            `json:"modifier,omitempty"`
	Total          int            `json:"total,omitempty"`
	DC             int            `json:"dc,omitempty"`
	Outcome        Outcome        `json:"outcome,omitempty"`
	Target         string         `json:"target,omitempty"`
	Hit            bool           `json:"hit,omitempty"`
	Damage         *DamageRoll    `json:"damage,omitempty"`
	StatusEffects  []string       `json:"status_effects,omitempty"`
	GoldDelta      int            `json:"gold_delta,omitempty"`
	ResourceDeltas map[string]int `json:"resource_deltas,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// StateUpdates изменения состояния, сообщаемые клиенту.
type StateUpdates struct {
	Flags       map[string]bool `json:"flags,omitempty"`
	GlobalFlags map[string]bool `json:"global_flags,omitempty"`
	TimeAdvance int             `json:"time_advance,omitempty"`
	Weather     string          `json:"weather,omitempty"`
	Inventory   *InventoryDelta `json:"inventory,omitempty"`
	HP          *HitPoints      `json:"hp,omitempty"`
	Quest       *QuestUpdate    `json:"quest,omitempty"`
	SceneID     string          `json:"scene_id,omitempty"` // Новая сцена после перехода
}

// TurnOutput итог хода.
type TurnOutput struct {
	Narration    string           `json:"narration"`
	ActionLog    []ActionLogEntry `json:"action_log"`
	Choices      []string         `json:"choices"`
	StateUpdates StateUpdates     `json:"state_updates"`
	ImageRequest *ImageJobHandle  `json:"image_request,omitempty"`
}

// Verdict решение валидатора. Approved == (len(Errors) == 0).
type Verdict struct {
	Approved bool     `json:"approved"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AddError добавляет ошибку без дублей.
func (v *Verdict) AddError(msg string) {
	if !slices.Contains(v.Errors, msg) {
		v.Errors = append(v.Errors, msg)
	}
	v.Approved = len(v.Errors) == 0
}

// AddWarning добавляет предупреждение без дублей.
func (v *Verdict) AddWarning(msg string) {
	if !slices.Contains(v.Warnings, msg) {
		v.Warnings = append(v.Warnings, msg)
	}
}

// Merge переносит ошибки и предупреждения другого решения.
func (v *Verdict) Merge(other Verdict) {
	for _, e := range other.Errors {
		v.AddError(e)
	}
	for _, w := range other.Warnings {
		v.AddWarning(w)
	}
	v.Approved = len(v.Errors) == 0
}

// NewVerdict возвращает пустое одобренное решение.
func NewVerdict() Verdict {
	return Verdict{Approved: true, Errors: []string{}, Warnings: []string{}}
}

// NarrationRequest запрос к генератору повествования.
type NarrationRequest struct {
	Scene        Scene        `json:"scene"`
	Character    *Character   `json:"character"`
	PlayerAction string       `json:"player_action"`
	ToolResults  []ToolResult `json:"tool_results"`
	AgeRating    AgeRating    `json:"age_rating"`
	MaxWords     int          `json:"max_words"`
	Lore         []LoreEntry  `json:"lore,omitempty"`
	Feedback     []string     `json:"feedback,omitempty"` // Ошибки валидатора прошлой попытки
}

// TurnRequest запрос на обработку хода.
type TurnRequest struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	PlayerInput string `json:"player_input"`
	SceneID     string `json:"scene_id,omitempty"`
}

// TurnResponse ответ игроку.
type TurnResponse struct {
	TurnOutput
	SessionID string   `json:"session_id"`
	SceneID   string   `json:"scene_id"`
	TurnCount int      `json:"turn_count"`
	Recovered bool     `json:"recovered"`
	Warnings  []string `json:"warnings,omitempty"`
}

// TransitionSnapshot краткий слепок контекста в момент перехода.
type TransitionSnapshot struct {
	Revision int    `json:"revision"`
	Steps    int    `json:"steps"`
	Results  int    `json:"results"`
	Approved *bool  `json:"approved,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TurnContext изменяемое состояние одного хода. Принадлежит оркестратору на время хода.
type TurnContext struct {
	Session     *Session
	Scene       Scene
	Character   *Character // Рабочая копия, фиксируется в сессии на Render
	PlayerInput string
	TurnSeed    int64
	Plan        *Plan
	ToolResults []ToolResult
	Output      *TurnOutput
	Verdict     *Verdict
	Revisions   int
	Feedback    []string
	Moderation  string // Причина отклонения ввода модерацией
	Trace       *Trace
	Recovered   bool
	LastErr     error
	StartedAt   time.Time
}

// Snapshot возвращает слепок для истории переходов.
func (tc *TurnContext) Snapshot() TransitionSnapshot {
	snap := TransitionSnapshot{Revision: tc.Revisions, Results: len(tc.ToolResults)}
	if tc.Plan != nil {
		snap.Steps = len(tc.Plan.Steps)
	}
	if tc.Verdict != nil {
		approved := tc.Verdict.Approved
		snap.Approved = &approved
	}
	if tc.LastErr != nil {
		snap.Error = tc.LastErr.Error()
	}
	return snap
}

// WordCount считает слова в тексте.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
