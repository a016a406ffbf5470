package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fiction-server/internal/combat"
	"fiction-server/internal/domain"
	"fiction-server/internal/safety"
	"fiction-server/internal/statemachine"
	"fiction-server/internal/world"
	"fiction-server/pkg/dice"
	"fiction-server/pkg/imagejobs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки оркестратора.
var (
	ErrEmptyInput     = errors.New("player input is empty")
	ErrImagesDisabled = errors.New("image generation is disabled")
)

// OrchestratorService обрабатывает ходы игроков.
type OrchestratorService interface {
	SubmitTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResponse, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	ShutdownSession(ctx context.Context, sessionID string) error
	EvictIdle(ctx context.Context, maxIdle time.Duration) int
	TraceFor(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error)
	RequestImage(ctx context.Context, sessionID string, args domain.ImageArgs) (imagejobs.Ticket, error)
	RequestHQ(ctx context.Context, jobID string) (imagejobs.Ticket, error)
	ImageStatus(jobID string) (imagejobs.Report, error)
	Stats() Stats
}

// Dependencies внешние компоненты оркестратора. Обязателен только World;
// остальные могут быть nil.
type Dependencies struct {
	World     *world.Store
	Content   ContentStore
	Sessions  SessionStore
	Traces    TraceRecorder
	Images    ImagePipeline
	Generator NarrationGenerator
	Validator *safety.Validator
	Roller    *dice.Roller
	Combat    combat.Options
	SeedFunc  SeedFunc
	Clock     func() time.Time
}

// Stats сводка по оркестратору.
type Stats struct {
	ActiveSessions    int                      `json:"active_sessions"`
	TotalTurns        int64                    `json:"total_turns"`
	RecoveredTurns    int64                    `json:"recovered_turns"`
	Revisions         int64                    `json:"revisions"`
	StateDistribution map[domain.TurnState]int `json:"state_distribution"`
	TotalTransitions  int                      `json:"total_transitions"`
	Images            *imagejobs.Metrics       `json:"images,omitempty"`
}

type sessionState struct {
	session *domain.Session
	machine *statemachine.Machine
}

type orchestrator struct {
	cfg       Config
	world     *world.Store
	content   ContentStore
	store     SessionStore
	traces    TraceRecorder
	images    ImagePipeline
	validator *safety.Validator
	planner   *Planner
	executor  *Executor
	reducer   *Reducer
	seed      SeedFunc
	now       func() time.Time
	logger    *zap.Logger

	locks    *sessionLocks
	mu       sync.RWMutex
	sessions map[string]*sessionState

	totalTurns atomic.Int64
	recovered  atomic.Int64
	revisions  atomic.Int64
}

// NewOrchestrator создаёт оркестратор ходов.
func NewOrchestrator(cfg Config, deps Dependencies, logger *zap.Logger) OrchestratorService {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("Orchestrator")
	if deps.World == nil {
		deps.World = world.NewStore(logger)
	}
	if deps.Validator == nil {
		deps.Validator = safety.NewValidator(cfg.Validator, nil)
	}
	if deps.SeedFunc == nil {
		deps.SeedFunc = RandomSeed
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	o := &orchestrator{
		cfg:       cfg,
		world:     deps.World,
		content:   deps.Content,
		store:     deps.Sessions,
		traces:    deps.Traces,
		images:    deps.Images,
		validator: deps.Validator,
		planner:   NewPlanner(deps.Validator.Classifier(), cfg.ImagesEnabled && deps.Images != nil),
		executor:  NewExecutor(deps.Roller, deps.Combat, logger),
		seed:      deps.SeedFunc,
		now:       deps.Clock,
		logger:    logger,
		locks:     newSessionLocks(),
		sessions:  make(map[string]*sessionState),
	}
	o.reducer = NewReducer(deps.Generator, deps.Content, o.lookupScene, cfg, logger)
	return o
}

func (o *orchestrator) newMachine() *statemachine.Machine {
	m := statemachine.New(
		statemachine.WithLogger(o.logger),
		statemachine.WithHistoryLimit(o.cfg.HistoryLimit),
		statemachine.WithClock(o.now),
	)
	m.Register(domain.StatePlan, o.handlePlan, nil)
	m.Register(domain.StateToolExec, o.handleToolExec, nil)
	m.Register(domain.StateReduce, o.handleReduce, nil)
	m.Register(domain.StateSafety, o.handleSafety, nil)
	m.Register(domain.StateRender, o.handleRender, nil)
	m.Register(domain.StateRecover, o.handleRecover, nil)
	return m
}

// SubmitTurn обрабатывает один ход. Ходы одной сессии выполняются строго
// последовательно, разных сессий параллельно. Ошибки хранилищ логируются
// и не возвращаются игроку.
func (o *orchestrator) SubmitTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResponse, error) {
	input := strings.TrimSpace(req.PlayerInput)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	start := o.now()
	state := o.loadSession(ctx, req)
	session := state.session.Clone()

	if req.SceneID != "" && req.SceneID != session.CurrentSceneID {
		if _, ok := o.lookupScene(req.SceneID); ok {
			session.CurrentSceneID = req.SceneID
		} else {
			o.logger.Warn("Requested scene not found, keeping current",
				zap.String("sessionID", session.ID),
				zap.String("sceneID", req.SceneID),
			)
		}
	}
	scene := o.resolveScene(session.CurrentSceneID)
	session.CurrentSceneID = scene.ID

	tc := &domain.TurnContext{
		Session:     session,
		Scene:       scene,
		PlayerInput: input,
		Trace:       domain.NewTrace(session.ID, scene.ID, session.TurnCount+1, input, start),
		StartedAt:   start,
	}

	m := state.machine
	if err := m.Transition(domain.StatePlan, tc.Snapshot()); err != nil {
		o.logger.Warn("Machine was not at rest, resetting", zap.String("sessionID", session.ID), zap.Error(err))
		m.Reset()
		_ = m.Transition(domain.StatePlan, tc.Snapshot())
	}
	final := m.Run(ctx, tc, o.cfg.MaxTransitions)

	session.TurnCount++
	session.LastActivity = o.now()
	o.mu.Lock()
	state.session = session
	o.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	o.persist(persistCtx, session)

	tc.Trace.FinalState = final
	tc.Trace.Recovered = tc.Recovered
	tc.Trace.FinishedAt = o.now()
	if o.traces != nil {
		if err := o.traces.Append(persistCtx, tc.Trace); err != nil {
			o.logger.Warn("Failed to append turn trace", zap.String("sessionID", session.ID), zap.Error(err))
		}
	}

	o.totalTurns.Add(1)
	outcome := "completed"
	if tc.Recovered {
		outcome = "recovered"
		o.recovered.Add(1)
	}
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(o.now().Sub(start).Seconds())

	resp := &domain.TurnResponse{
		TurnOutput: *tc.Output,
		SessionID:  session.ID,
		SceneID:    session.CurrentSceneID,
		TurnCount:  session.TurnCount,
		Recovered:  tc.Recovered,
	}
	var warnings []string
	if tc.Verdict != nil {
		warnings = append(warnings, tc.Verdict.Warnings...)
	}
	if tc.Moderation != "" {
		warnings = append(warnings, tc.Moderation)
	}
	resp.Warnings = uniqueStrings(warnings)

	o.logger.Info("Turn processed",
		zap.String("sessionID", session.ID),
		zap.Int("turn", session.TurnCount),
		zap.String("sceneID", session.CurrentSceneID),
		zap.String("outcome", outcome),
		zap.Int("revisions", tc.Revisions),
	)
	return resp, nil
}

func (o *orchestrator) handlePlan(ctx context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tc.Character = tc.Session.Character.Clone()
	tc.ToolResults = nil
	tc.Output = nil
	tc.Verdict = nil

	turn := int64(tc.Session.TurnCount + 1)
	tc.TurnSeed = tc.Session.Seed + turn*TurnSeedStride + int64(tc.Revisions)*RevisionSeedStride

	plan := o.planner.Plan(PlanInput{
		Input:     tc.PlayerInput,
		Scene:     tc.Scene,
		Character: tc.Character,
		Settings:  tc.Session.Settings,
		Seed:      tc.TurnSeed,
		Revision:  tc.Revisions,
	})
	tc.Plan = &plan
	if plan.Moderated {
		tc.Moderation = plan.Note
	}
	tc.Trace.AddOutput("plan", plan, o.now())

	if len(plan.Steps) == 0 {
		return domain.StateReduce, nil
	}
	return domain.StateToolExec, nil
}

func (o *orchestrator) handleToolExec(ctx context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	results, err := o.executor.Execute(ctx, tc)
	tc.ToolResults = results
	if err != nil {
		return "", err
	}
	return domain.StateReduce, nil
}

func (o *orchestrator) handleReduce(ctx context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	out, err := o.reducer.Reduce(ctx, tc)
	if err != nil {
		return "", err
	}
	tc.Output = &out
	return domain.StateSafety, nil
}

func (o *orchestrator) handleSafety(_ context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	vctx := safety.ValidationContext{
		Scene:     tc.Scene,
		Character: tc.Session.Character,
		AgeRating: tc.Session.Settings.AgeRating,
	}
	if o.content != nil {
		vctx.Lore = o.content.LoreFor(tc.Scene)
	}
	verdict := o.validator.Validate(*tc.Output, vctx)
	tc.Verdict = &verdict
	tc.Trace.AddOutput("verdict", verdict, o.now())

	if verdict.Approved {
		return domain.StateRender, nil
	}

	tc.Revisions++
	if tc.Revisions > o.cfg.MaxRevisions {
		tc.LastErr = &domain.ValidationRejectedError{Errors: slices.Clone(verdict.Errors)}
		return domain.StateRecover, nil
	}
	o.revisions.Add(1)
	turnRevisions.Inc()
	tc.Feedback = slices.Clone(verdict.Errors)
	o.logger.Info("Turn output rejected, replanning",
		zap.String("sessionID", tc.Session.ID),
		zap.Int("revision", tc.Revisions),
		zap.Strings("errors", verdict.Errors),
	)
	return domain.StatePlan, nil
}

// handleRender фиксирует ход: изменения мира, рабочую копию персонажа,
// переход между сценами и запрос изображения.
func (o *orchestrator) handleRender(ctx context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	for _, res := range tc.ToolResults {
		if res.Kind != domain.ResultWorldUpdate || res.World == nil || res.World.Applied {
			continue
		}
		if _, err := o.world.Apply(res.World.Update); err != nil {
			return "", fmt.Errorf("apply world update: %w", err)
		}
		res.World.Applied = true
		if q := res.World.Update.Quest; q != nil {
			tc.Session.Quests[q.QuestID] = *q
		}
	}

	tc.Session.Character = tc.Character
	if dest := tc.Plan.Destination; dest != "" {
		tc.Session.CurrentSceneID = o.resolveScene(dest).ID
	}

	if handle := tc.Output.ImageRequest; handle != nil && o.images != nil {
		ticket, err := o.images.RequestImage(ctx, imagejobs.Request{
			OwnerID: tc.Session.ID,
			SceneID: handle.SceneID,
			Prompt:  handle.Prompt,
			Mode:    imagejobs.Mode(handle.Mode),
			Seed:    handle.Seed,
		})
		if err != nil {
			o.logger.Warn("Image request failed", zap.String("sessionID", tc.Session.ID), zap.Error(err))
			tc.Output.ImageRequest = nil
		} else {
			handle.JobID = ticket.JobID
			handle.ETASeconds = ticket.ETASeconds
			tc.Session.TrackImageJob(ticket.JobID)
		}
	}
	return domain.StateAwaitInput, nil
}

// handleRecover дополняет запасной итог системной записью.
func (o *orchestrator) handleRecover(_ context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
	cause := "error"
	msg := "unknown failure"
	if tc.LastErr != nil {
		msg = tc.LastErr.Error()
		if errors.Is(tc.LastErr, domain.ErrValidationRejected) {
			cause = "validation"
		} else if strings.HasPrefix(msg, "transition limit") {
			cause = "limit"
		}
	}
	turnRecoveries.WithLabelValues(cause).Inc()
	tc.Output.ActionLog = append(tc.Output.ActionLog, domain.ActionLogEntry{
		Type:    domain.LogSystem,
		Message: "A mysterious force intervenes",
	})
	tc.Trace.AddOutput("error", msg, o.now())
	o.logger.Warn("Turn recovered",
		zap.String("sessionID", tc.Session.ID),
		zap.String("cause", cause),
		zap.String("error", msg),
	)
	return domain.StateAwaitInput, nil
}

func (o *orchestrator) loadSession(ctx context.Context, req domain.TurnRequest) *sessionState {
	o.mu.RLock()
	st, ok := o.sessions[req.SessionID]
	o.mu.RUnlock()
	if ok {
		return st
	}

	var session *domain.Session
	if o.store != nil {
		loaded, err := o.store.Load(ctx, req.SessionID)
		switch {
		case err == nil:
			session = loaded
		case errors.Is(err, domain.ErrSessionNotFound):
		default:
			o.logger.Warn("Failed to load session, starting a new one",
				zap.String("sessionID", req.SessionID),
				zap.Error(err),
			)
		}
	}
	if session == nil {
		session = domain.NewSession(req.SessionID, req.PlayerID, o.seed(), o.now())
	}
	if session.Character == nil {
		session.Character = domain.NewCharacter("")
	}
	if session.Quests == nil {
		session.Quests = map[string]domain.QuestUpdate{}
	}

	st = &sessionState{session: session, machine: o.newMachine()}
	o.mu.Lock()
	o.sessions[req.SessionID] = st
	activeSessions.Set(float64(len(o.sessions)))
	o.mu.Unlock()
	return st
}

func (o *orchestrator) persist(ctx context.Context, session *domain.Session) {
	if o.store == nil || !session.Settings.AutoSave {
		return
	}
	if err := o.store.Save(ctx, session); err != nil {
		o.logger.Warn("Failed to save session", zap.String("sessionID", session.ID), zap.Error(err))
	}
}

// lookupScene ищет сцену в мире, затем в контенте, не регистрируя её.
func (o *orchestrator) lookupScene(id string) (domain.Scene, bool) {
	if scene, ok := o.world.GetScene(id); ok {
		return scene, true
	}
	if o.content != nil {
		if scene, ok := o.content.GetScene(id); ok {
			return scene, true
		}
	}
	if id == domain.DefaultSceneID {
		return domain.DefaultScene(), true
	}
	return domain.Scene{}, false
}

// resolveScene возвращает сцену из мира, загружая её из контента или
// подставляя стартовую сцену.
func (o *orchestrator) resolveScene(id string) domain.Scene {
	if scene, ok := o.world.GetScene(id); ok {
		return scene
	}
	if scene, ok := o.lookupScene(id); ok {
		return o.world.AddScene(scene)
	}
	o.logger.Warn("Scene not found, using default", zap.String("sceneID", id))
	if scene, ok := o.world.GetScene(domain.DefaultSceneID); ok {
		return scene
	}
	return o.world.AddScene(domain.DefaultScene())
}

func (o *orchestrator) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	o.mu.RLock()
	st, ok := o.sessions[sessionID]
	var session *domain.Session
	if ok {
		session = st.session.Clone()
	}
	o.mu.RUnlock()
	if ok {
		return session, nil
	}
	if o.store == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return o.store.Load(ctx, sessionID)
}

func (o *orchestrator) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	if o.store != nil {
		return o.store.List(ctx)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.SessionSummary, 0, len(o.sessions))
	for _, st := range o.sessions {
		out = append(out, st.session.Summary())
	}
	slices.SortFunc(out, func(a, b domain.SessionSummary) int { return b.LastActivity.Compare(a.LastActivity) })
	return out, nil
}

// ShutdownSession сохраняет сессию и выгружает её из памяти.
func (o *orchestrator) ShutdownSession(ctx context.Context, sessionID string) error {
	_, err := o.unload(ctx, sessionID, time.Time{})
	return err
}

// unload выгружает сессию под её блокировкой. Ненулевой idleBefore оставляет
// сессию, если она была активна после этого момента.
func (o *orchestrator) unload(ctx context.Context, sessionID string, idleBefore time.Time) (bool, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return false, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if !idleBefore.IsZero() && !st.session.LastActivity.Before(idleBefore) {
		o.mu.Unlock()
		return false, nil
	}
	delete(o.sessions, sessionID)
	activeSessions.Set(float64(len(o.sessions)))
	o.mu.Unlock()

	o.persist(ctx, st.session)
	o.logger.Info("Session shut down", zap.String("sessionID", sessionID), zap.Int("turns", st.session.TurnCount))
	return true, nil
}

// EvictIdle выгружает сессии без активности дольше maxIdle. Возвращает их число.
func (o *orchestrator) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := o.now().Add(-maxIdle)
	o.mu.RLock()
	var idle []string
	for id, st := range o.sessions {
		if st.session.LastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	o.mu.RUnlock()

	evicted := 0
	for _, id := range idle {
		// Ход мог завершиться после отбора, поэтому простой проверяется повторно.
		if ok, _ := o.unload(ctx, id, cutoff); ok {
			evicted++
		}
	}
	return evicted
}

func (o *orchestrator) TraceFor(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error) {
	if o.traces == nil {
		return []*domain.Trace{}, nil
	}
	if limit <= 0 {
		limit = o.cfg.TraceLimit
	}
	return o.traces.ListBySession(ctx, sessionID, limit)
}

// RequestImage ставит задачу на изображение вне хода.
func (o *orchestrator) RequestImage(ctx context.Context, sessionID string, args domain.ImageArgs) (imagejobs.Ticket, error) {
	if o.images == nil || !o.cfg.ImagesEnabled {
		return imagejobs.Ticket{}, ErrImagesDisabled
	}
	mode := args.Mode
	if mode == "" {
		mode = domain.ImageModePreview
	}
	prompt := args.Prompt
	if prompt == "" {
		if scene, ok := o.lookupScene(args.SceneID); ok {
			prompt = ImagePrompt(scene)
		}
	}
	return o.images.RequestImage(ctx, imagejobs.Request{
		OwnerID: sessionID,
		SceneID: args.SceneID,
		Prompt:  prompt,
		Mode:    imagejobs.Mode(mode),
		Seed:    o.seed(),
	})
}

func (o *orchestrator) RequestHQ(ctx context.Context, jobID string) (imagejobs.Ticket, error) {
	if o.images == nil {
		return imagejobs.Ticket{}, ErrImagesDisabled
	}
	return o.images.RerenderHQ(ctx, jobID)
}

func (o *orchestrator) ImageStatus(jobID string) (imagejobs.Report, error) {
	if o.images == nil {
		return imagejobs.Report{}, ErrImagesDisabled
	}
	return o.images.GetStatus(jobID)
}

func (o *orchestrator) Stats() Stats {
	o.mu.RLock()
	machines := make([]*statemachine.Machine, 0, len(o.sessions))
	for _, st := range o.sessions {
		machines = append(machines, st.machine)
	}
	o.mu.RUnlock()

	stats := Stats{
		ActiveSessions:    len(machines),
		TotalTurns:        o.totalTurns.Load(),
		RecoveredTurns:    o.recovered.Load(),
		Revisions:         o.revisions.Load(),
		StateDistribution: map[domain.TurnState]int{},
	}
	for _, m := range machines {
		mm := m.Metrics()
		stats.TotalTransitions += mm.TotalTransitions
		for state, n := range mm.StateDistribution {
			stats.StateDistribution[state] += n
		}
	}
	if o.images != nil {
		im := o.images.Metrics()
		stats.Images = &im
	}
	return stats
}
