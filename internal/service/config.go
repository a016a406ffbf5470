package service

import (
	"math/rand"
	"time"

	"fiction-server/internal/safety"
)

// Шаги сидов: сид хода, ревизии и шага плана. Внутри шага смещения
// +0, +1, +2 заняты под попадание, урон и критический урон.
const (
	TurnSeedStride     int64 = 1000
	RevisionSeedStride int64 = 100
	StepSeedStride     int64 = 10
)

// Config параметры оркестратора.
type Config struct {
	MaxRevisions     int           // Сколько раз Safety может вернуть ход в Plan
	MaxTransitions   int           // Жёсткий предел переходов автомата за ход
	HistoryLimit     int           // Сколько переходов хранить в истории автомата сессии
	ChoiceCount      int           // Сколько вариантов выбора предлагать
	MaxWords         int           // Предел слов для генератора
	NarrationTimeout time.Duration // Время на генерацию текста
	ImagesEnabled    bool
	TraceLimit       int // Сколько журналов хода возвращать по умолчанию
	Validator        safety.Config
}

// DefaultConfig значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxRevisions:     2,
		MaxTransitions:   32,
		HistoryLimit:     256,
		ChoiceCount:      4,
		MaxWords:         120,
		NarrationTimeout: 20 * time.Second,
		ImagesEnabled:    true,
		TraceLimit:       50,
		Validator:        safety.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRevisions < 0 {
		c.MaxRevisions = def.MaxRevisions
	}
	if c.MaxTransitions <= 0 {
		c.MaxTransitions = def.MaxTransitions
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.ChoiceCount <= 0 {
		c.ChoiceCount = def.ChoiceCount
	}
	if c.MaxWords <= 0 {
		c.MaxWords = def.MaxWords
	}
	if c.NarrationTimeout <= 0 {
		c.NarrationTimeout = def.NarrationTimeout
	}
	if c.TraceLimit <= 0 {
		c.TraceLimit = def.TraceLimit
	}
	if c.Validator.MaxNarrationWords == 0 {
		c.Validator = def.Validator
	}
	return c
}

// SeedFunc выдаёт базовый сид новой сессии.
type SeedFunc func() int64

// RandomSeed сид из текущего времени.
func RandomSeed() int64 {
	return rand.New(rand.NewSource(time.Now().UnixNano())).Int63n(1_000_000)
}
