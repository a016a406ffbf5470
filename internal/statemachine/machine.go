package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"fiction-server/internal/domain"

	"go.uber.org/zap"
)

// Handler выполняет работу состояния и возвращает следующее состояние.
type Handler func(ctx context.Context, tc *domain.TurnContext) (domain.TurnState, error)

// ErrorHandler решает, куда перейти после ошибки обработчика.
type ErrorHandler func(ctx context.Context, tc *domain.TurnContext, err error) domain.TurnState

// legalTransitions таблица допустимых переходов.
var legalTransitions = map[domain.TurnState][]domain.TurnState{
	domain.StateIdle:       {domain.StatePlan, domain.StateRecover},
	domain.StatePlan:       {domain.StateToolExec, domain.StateReduce, domain.StateRecover},
	domain.StateToolExec:   {domain.StateReduce, domain.StateRecover},
	domain.StateReduce:     {domain.StateSafety, domain.StateRecover},
	domain.StateSafety:     {domain.StateRender, domain.StatePlan, domain.StateRecover},
	domain.StateRender:     {domain.StateAwaitInput, domain.StateRecover},
	domain.StateAwaitInput: {domain.StatePlan, domain.StateIdle, domain.StateRecover},
	domain.StateRecover:    {domain.StateAwaitInput, domain.StateIdle},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to domain.TurnState) bool {
	return slices.Contains(legalTransitions[from], to)
}

// Transition запись истории переходов.
type Transition struct {
	From     domain.TurnState          `json:"from"`
	To       domain.TurnState          `json:"to"`
	At       time.Time                 `json:"at"`
	Snapshot domain.TransitionSnapshot `json:"snapshot"`
}

// Metrics сводка по автомату.
type Metrics struct {
	CurrentState      domain.TurnState         `json:"current_state"`
	TotalTransitions  int                      `json:"total_transitions"`
	StateDistribution map[domain.TurnState]int `json:"state_distribution"`
	AverageStay       time.Duration            `json:"average_stay"`
}

// FallbackNarration текст, который игрок получает после восстановления.
const FallbackNarration = "The mists of adventure swirl around you, obscuring the path momentarily. As they clear, new possibilities emerge."

// FallbackChoices варианты действий после восстановления.
func FallbackChoices() []string {
	return []string{
		"Take a moment to assess your surroundings",
		"Continue forward cautiously",
		"Look for a different approach",
	}
}

// FallbackOutput итог хода, который выдаёт состояние Recover.
func FallbackOutput() domain.TurnOutput {
	return domain.TurnOutput{
		Narration:    FallbackNarration,
		ActionLog:    []domain.ActionLogEntry{},
		Choices:      FallbackChoices(),
		StateUpdates: domain.StateUpdates{},
	}
}

type handlerPair struct {
	handler      Handler
	errorHandler ErrorHandler
}

// Option настройка автомата.
type Option func(*Machine)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger задаёт логгер.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHistoryLimit ограничивает длину истории. 0 означает без ограничения.
func WithHistoryLimit(limit int) Option {
	return func(m *Machine) { m.historyLimit = limit }
}

// Machine конечный автомат обработки хода. Один экземпляр на сессию.
type Machine struct {
	mu           sync.Mutex
	current      domain.TurnState
	enteredAt    time.Time
	createdAt    time.Time
	history      []Transition
	historyLimit int
	total        int
	handlers     map[domain.TurnState]handlerPair
	now          func() time.Time
	logger       *zap.Logger
}

// New создаёт автомат в состоянии Idle.
func New(opts ...Option) *Machine {
	m := &Machine{
		current:  domain.StateIdle,
		handlers: make(map[domain.TurnState]handlerPair),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("TurnStateMachine")
	m.createdAt = m.now()
	m.enteredAt = m.createdAt
	return m
}

// Register задаёт обработчик состояния и, опционально, обработчик его ошибок.
// Для Recover обработчик получает уже заполненный запасной итог и может его дополнить.
func (m *Machine) Register(state domain.TurnState, handler Handler, errorHandler ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[state] = handlerPair{handler: handler, errorHandler: errorHandler}
}

// Current возвращает текущее состояние.
func (m *Machine) Current() domain.TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History возвращает копию истории переходов.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Transition выполняет переход в состояние to.
func (m *Machine) Transition(to domain.TurnState, snapshot domain.TransitionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, snapshot)
}

func (m *Machine) transitionLocked(to domain.TurnState, snapshot domain.TransitionSnapshot) error {
	from := m.current
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	now := m.now()
	m.history = append(m.history, Transition{From: from, To: to, At: now, Snapshot: snapshot})
	if m.historyLimit > 0 && len(m.history) > m.historyLimit {
		m.history = slices.Clone(m.history[len(m.history)-m.historyLimit:])
	}
	m.total++
	m.current = to
	m.enteredAt = now

	m.logger.Debug("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("revision", snapshot.Revision),
	)
	return nil
}

// Reset возвращает автомат в Idle и очищает историю.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.StateIdle
	m.history = nil
	m.total = 0
	m.createdAt = m.now()
	m.enteredAt = m.createdAt
}

// StateDuration время, проведённое в текущем состоянии.
func (m *Machine) StateDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.enteredAt)
}

// InErrorState сообщает, что автомат находится в Recover.
func (m *Machine) InErrorState() bool {
	return m.Current() == domain.StateRecover
}

// Metrics возвращает распределение состояний и среднее время пребывания.
func (m *Machine) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	dist := make(map[domain.TurnState]int)
	for _, tr := range m.history {
		dist[tr.To]++
	}
	metrics := Metrics{
		CurrentState:      m.current,
		TotalTransitions:  m.total,
		StateDistribution: dist,
	}
	if m.total > 0 {
		metrics.AverageStay = m.now().Sub(m.createdAt) / time.Duration(m.total)
	}
	return metrics
}

// Step выполняет обработчик текущего состояния и переходит в следующее.
// Ошибки и паники обработчика уходят в его обработчик ошибок, без него в Recover.
// Step возвращает состояние, в котором оказался автомат.
func (m *Machine) Step(ctx context.Context, tc *domain.TurnContext) domain.TurnState {
	state := m.Current()
	if state == domain.StateRecover {
		return m.runRecover(ctx, tc)
	}

	m.mu.Lock()
	pair, ok := m.handlers[state]
	m.mu.Unlock()

	var next domain.TurnState
	var err error
	if !ok || pair.handler == nil {
		err = fmt.Errorf("no handler registered for state %s", state)
	} else {
		next, err = invoke(ctx, tc, state, pair.handler)
	}

	if err == nil {
		err = m.Transition(next, tc.Snapshot())
		if err == nil {
			return next
		}
	}

	tc.LastErr = err
	m.logger.Warn("State handler failed",
		zap.String("state", string(state)),
		zap.Error(err),
	)

	next = domain.StateRecover
	if pair.errorHandler != nil {
		next = invokeErrorHandler(ctx, tc, err, pair.errorHandler)
	}
	if terr := m.Transition(next, tc.Snapshot()); terr != nil {
		m.logger.Warn("Error handler chose an illegal state, recovering",
			zap.String("state", string(state)),
			zap.String("next", string(next)),
		)
		_ = m.Transition(domain.StateRecover, tc.Snapshot())
		return domain.StateRecover
	}
	return next
}

// ForceRecover переводит автомат в Recover из любого нерекуперационного состояния.
func (m *Machine) ForceRecover(tc *domain.TurnContext, cause error) error {
	if cause != nil {
		tc.LastErr = cause
	}
	return m.Transition(domain.StateRecover, tc.Snapshot())
}

// runRecover заполняет итог хода запасным текстом, даёт пользовательскому
// обработчику Recover его дополнить и всегда переводит автомат в AwaitInput.
func (m *Machine) runRecover(ctx context.Context, tc *domain.TurnContext) domain.TurnState {
	m.mu.Lock()
	pair, ok := m.handlers[domain.StateRecover]
	m.mu.Unlock()

	out := FallbackOutput()
	tc.Output = &out
	if ok && pair.handler != nil {
		if _, err := invoke(ctx, tc, domain.StateRecover, pair.handler); err != nil {
			m.logger.Error("Recover handler failed", zap.Error(err))
			out = FallbackOutput()
			tc.Output = &out
		}
	}
	if tc.Output == nil || tc.Output.Narration == "" {
		out = FallbackOutput()
		tc.Output = &out
	}
	tc.Recovered = true

	if err := m.Transition(domain.StateAwaitInput, tc.Snapshot()); err != nil {
		// Recover -> AwaitInput всегда допустим.
		m.logger.Error("Failed to leave recover state", zap.Error(err))
	}
	return domain.StateAwaitInput
}

// Run выполняет шаги, пока автомат не окажется в AwaitInput или Idle.
// maxSteps ограничивает число переходов; при превышении автомат уходит в Recover.
func (m *Machine) Run(ctx context.Context, tc *domain.TurnContext, maxSteps int) domain.TurnState {
	steps := 0
	for {
		state := m.Current()
		if state.IsResting() {
			return state
		}
		if maxSteps > 0 && steps >= maxSteps && state != domain.StateRecover {
			m.logger.Warn("Transition limit reached, recovering", zap.Int("steps", steps))
			if err := m.ForceRecover(tc, fmt.Errorf("transition limit %d reached", maxSteps)); err != nil {
				return m.Current()
			}
		}
		m.Step(ctx, tc)
		steps++
	}
}

func invoke(ctx context.Context, tc *domain.TurnContext, state domain.TurnState, h Handler) (next domain.TurnState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", state, r)
		}
	}()
	return h(ctx, tc)
}

func invokeErrorHandler(ctx context.Context, tc *domain.TurnContext, cause error, h ErrorHandler) (next domain.TurnState) {
	defer func() {
		if r := recover(); r != nil {
			next = domain.StateRecover
		}
	}()
	return h(ctx, tc, cause)
}
