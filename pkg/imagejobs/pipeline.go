package imagejobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config настройки конвейера.
type Config struct {
	PreviewTimeout time.Duration // Таймаут одной попытки preview
	HQTimeout      time.Duration // Таймаут одной попытки HQ
	MaxAttempts    int
	BaseBackoff    time.Duration // Задержка перед попыткой n+1 равна BaseBackoff*n
	Retention      time.Duration // Сколько хранить завершённые задачи
	SweepInterval  time.Duration
	MaxActive      int
}

// DefaultConfig настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		PreviewTimeout: 5 * time.Second,
		HQTimeout:      20 * time.Second,
		MaxAttempts:    2,
		BaseBackoff:    time.Second,
		Retention:      24 * time.Hour,
		SweepInterval:  time.Minute,
		MaxActive:      100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PreviewTimeout <= 0 {
		c.PreviewTimeout = def.PreviewTimeout
	}
	if c.HQTimeout <= 0 {
		c.HQTimeout = def.HQTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.MaxActive <= 0 {
		c.MaxActive = def.MaxActive
	}
	return c
}

func (c Config) timeout(m Mode) time.Duration {
	if m == ModeHQ {
		return c.HQTimeout
	}
	return c.PreviewTimeout
}

// UpdateFunc получает отчёт при каждой смене статуса задачи.
type UpdateFunc func(Report)

// Pipeline асинхронная генерация изображений. Каждая задача выполняется в своей
// горутине, повторы планируются таймером. Реестр защищён mu, поля задачи её
// собственным мьютексом; оба мьютекса одновременно не захватываются.
type Pipeline struct {
	cfg    Config
	gen    Generator
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	active    map[string]*job
	completed map[string]*job

	subMu       sync.RWMutex
	subscribers []UpdateFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// Option настройка конвейера.
type Option func(*Pipeline)

// WithClock подменяет источник времени для отметок и расчёта прогресса.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New создаёт конвейер.
func New(cfg Config, gen Generator, logger zerolog.Logger, opts ...Option) *Pipeline {
	baseCtx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:        cfg.withDefaults(),
		gen:        gen,
		logger:     logger.With().Str("component", "image_pipeline").Logger(),
		now:        time.Now,
		active:     make(map[string]*job),
		completed:  make(map[string]*job),
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnUpdate подписывает fn на изменения статусов. fn вызывается синхронно из
// горутины задачи и не должна блокироваться.
func (p *Pipeline) OnUpdate(fn UpdateFunc) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// RequestImage ставит задачу в очередь и сразу возвращает квитанцию.
func (p *Pipeline) RequestImage(ctx context.Context, req Request) (Ticket, error) {
	if p.closed.Load() {
		return Ticket{}, ErrPipelineClosed
	}
	if req.Mode == "" {
		req.Mode = ModePreview
	}
	if req.Mode != ModePreview && req.Mode != ModeHQ {
		return Ticket{}, fmt.Errorf("%w: mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.Size == "" {
		req.Size = req.Mode.defaultSize()
	}
	width, height, err := parseSize(req.Size)
	if err != nil {
		return Ticket{}, err
	}

	j := &job{
		id:        "img_" + uuid.NewString(),
		ownerID:   req.OwnerID,
		sceneID:   req.SceneID,
		prompt:    req.Prompt,
		mode:      req.Mode,
		seed:      req.Seed,
		width:     width,
		height:    height,
		status:    StatusQueued,
		createdAt: p.now(),
	}
	if err := p.enqueue(ctx, j); err != nil {
		return Ticket{}, err
	}
	return Ticket{JobID: j.id, ETASeconds: j.mode.etaSeconds(), Status: StatusQueued}, nil
}

// RerenderHQ ставит HQ-перерисовку готового preview.
func (p *Pipeline) RerenderHQ(ctx context.Context, jobID string) (Ticket, error) {
	if p.closed.Load() {
		return Ticket{}, ErrPipelineClosed
	}
	parent, ok := p.lookup(jobID)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	parent.mu.Lock()
	if parent.status != StatusReady || parent.mode != ModePreview {
		status, mode := parent.status, parent.mode
		parent.mu.Unlock()
		return Ticket{}, fmt.Errorf("%w: %s is %s %s", ErrNotRerenderable, jobID, mode, status)
	}
	width, height, _ := parseSize(HQSize)
	j := &job{
		id:          "img_" + uuid.NewString(),
		ownerID:     parent.ownerID,
		sceneID:     parent.sceneID,
		prompt:      parent.prompt,
		mode:        ModeHQ,
		seed:        parent.seed,
		width:       width,
		height:      height,
		parentJobID: parent.id,
		status:      StatusQueued,
		createdAt:   p.now(),
	}
	parent.mu.Unlock()

	if err := p.enqueue(ctx, j); err != nil {
		return Ticket{}, err
	}
	return Ticket{JobID: j.id, ETASeconds: HQETASeconds, Status: StatusQueued}, nil
}

func (p *Pipeline) enqueue(ctx context.Context, j *job) error {
	p.mu.Lock()
	if len(p.active) >= p.cfg.MaxActive {
		p.mu.Unlock()
		return ErrTooManyJobs
	}
	p.active[j.id] = j
	p.mu.Unlock()
	activeJobs.Inc()

	zerolog.Ctx(ctx).Debug().
		Str("jobID", j.id).
		Str("sceneID", j.sceneID).
		Str("mode", string(j.mode)).
		Msg("Image job queued")

	p.publish(j)
	p.startAttempt(j)
	return nil
}

// startAttempt запускает очередную попытку в отдельной горутине.
func (p *Pipeline) startAttempt(j *job) {
	if p.closed.Load() {
		p.fail(j, ErrPipelineClosed)
		return
	}

	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.retry = nil
	j.attempts++
	attempt := j.attempts
	j.status = StatusGenerating
	j.startedAt = p.now()
	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.timeout(j.mode))
	j.cancel = cancel
	params := GenerateParams{
		Prompt:  SanitizePrompt(j.prompt),
		Seed:    j.seed,
		Width:   j.width,
		Height:  j.height,
		Steps:   j.mode.steps(),
		Quality: j.mode.quality(),
	}
	p.wg.Add(1)
	j.mu.Unlock()

	p.publish(j)

	go func() {
		defer p.wg.Done()
		defer cancel()
		result, err := p.gen.Generate(ctx, params)
		p.finishAttempt(j, attempt, result, err)
	}()
}

func (p *Pipeline) finishAttempt(j *job, attempt int, result Result, err error) {
	j.mu.Lock()
	// Задачу могла завершить уборка, пока попытка выполнялась.
	if j.status.Terminal() || j.attempts != attempt {
		j.mu.Unlock()
		return
	}
	j.cancel = nil
	mode := j.mode

	if err == nil {
		j.status = StatusReady
		j.result = &result
		j.completedAt = p.now()
		j.mu.Unlock()

		jobAttempts.WithLabelValues(string(mode), "success").Inc()
		p.logger.Info().Str("jobID", j.id).Int("attempt", attempt).Msg("Image job ready")
		p.complete(j)
		return
	}

	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
		err = fmt.Errorf("%w: attempt %d exceeded %s", ErrJobTimeout, attempt, p.cfg.timeout(mode))
	}
	jobAttempts.WithLabelValues(string(mode), outcome).Inc()

	if attempt < p.cfg.MaxAttempts && !p.closed.Load() {
		j.status = StatusQueued
		j.err = err
		delay := p.cfg.BaseBackoff * time.Duration(attempt)
		p.wg.Add(1)
		j.retry = time.AfterFunc(delay, func() {
			defer p.wg.Done()
			p.startAttempt(j)
		})
		j.mu.Unlock()

		p.logger.Warn().Err(err).
			Str("jobID", j.id).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("Image generation failed, retrying")
		p.publish(j)
		return
	}

	j.status = StatusFailed
	j.err = fmt.Errorf("%w after %d attempts: %v", ErrJobRetriesExhausted, attempt, err)
	j.completedAt = p.now()
	j.mu.Unlock()

	p.logger.Error().Err(err).Str("jobID", j.id).Int("attempts", attempt).Msg("Image job failed")
	p.complete(j)
}

// fail переводит незавершённую задачу в failed с причиной cause.
func (p *Pipeline) fail(j *job, cause error) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.status = StatusFailed
	j.err = cause
	j.completedAt = p.now()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	if j.retry != nil && j.retry.Stop() {
		// Таймер не сработает, его горутина не запустится.
		p.wg.Done()
	}
	j.retry = nil
	j.mu.Unlock()

	p.complete(j)
	return true
}

// complete переносит задачу из активных в завершённые.
func (p *Pipeline) complete(j *job) {
	p.mu.Lock()
	if _, ok := p.active[j.id]; ok {
		delete(p.active, j.id)
		p.completed[j.id] = j
		activeJobs.Dec()
	}
	p.mu.Unlock()

	j.mu.Lock()
	mode, status := j.mode, j.status
	elapsed := j.completedAt.Sub(j.createdAt)
	j.mu.Unlock()
	jobsFinished.WithLabelValues(string(mode), string(status)).Inc()
	jobDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())

	p.publish(j)
}

func (p *Pipeline) publish(j *job) {
	p.subMu.RLock()
	subs := p.subscribers
	p.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}
	j.mu.Lock()
	report := j.reportLocked(p.now())
	j.mu.Unlock()
	for _, fn := range subs {
		fn(report)
	}
}

func (p *Pipeline) lookup(jobID string) (*job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if j, ok := p.active[jobID]; ok {
		return j, true
	}
	j, ok := p.completed[jobID]
	return j, ok
}

// GetStatus возвращает состояние задачи. Прогресс между вызовами не убывает.
func (p *Pipeline) GetStatus(jobID string) (Report, error) {
	j, ok := p.lookup(jobID)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reportLocked(p.now()), nil
}

// SweepStats итог уборки.
type SweepStats struct {
	Removed  int `json:"removed"`
	TimedOut int `json:"timed_out"`
}

// Sweep удаляет завершённые задачи старше Retention и принудительно
// завершает активные задачи старше двойного таймаута попытки.
func (p *Pipeline) Sweep(now time.Time) SweepStats {
	var stats SweepStats
	var stale []*job

	// id, mode и createdAt не меняются после создания, их можно читать без j.mu.
	p.mu.Lock()
	for id, j := range p.completed {
		if now.Sub(j.createdAt) > p.cfg.Retention {
			delete(p.completed, id)
			stats.Removed++
		}
	}
	for _, j := range p.active {
		if now.Sub(j.createdAt) > 2*p.cfg.timeout(j.mode) {
			stale = append(stale, j)
		}
	}
	p.mu.Unlock()

	for _, j := range stale {
		if p.fail(j, fmt.Errorf("%w: exceeded %s", ErrJobTimeout, 2*p.cfg.timeout(j.mode))) {
			stats.TimedOut++
		}
	}

	if stats.Removed > 0 || stats.TimedOut > 0 {
		p.logger.Info().Int("removed", stats.Removed).Int("timedOut", stats.TimedOut).Msg("Image jobs swept")
	}
	return stats
}

// Start запускает периодическую уборку до отмены ctx или Shutdown.
func (p *Pipeline) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.baseCtx.Done():
				return
			case <-ticker.C:
				p.Sweep(p.now())
			}
		}
	}()
}

// Shutdown перестаёт принимать задачи и ждёт завершения текущих попыток.
// Если ctx истекает раньше, попытки отменяются.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.closed.Store(true)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.baseCancel()
		return nil
	case <-ctx.Done():
		p.baseCancel()
		return fmt.Errorf("timeout waiting for image jobs: %w", ctx.Err())
	}
}

// Metrics возвращает распределение задач по статусам.
func (p *Pipeline) Metrics() Metrics {
	p.mu.RLock()
	jobs := make([]*job, 0, len(p.active)+len(p.completed))
	for _, j := range p.active {
		jobs = append(jobs, j)
	}
	for _, j := range p.completed {
		jobs = append(jobs, j)
	}
	m := Metrics{
		ActiveJobs:    len(p.active),
		CompletedJobs: len(p.completed),
	}
	p.mu.RUnlock()

	m.StatusDistribution = map[Status]int{
		StatusQueued: 0, StatusGenerating: 0, StatusReady: 0, StatusFailed: 0,
	}
	for _, j := range jobs {
		j.mu.Lock()
		m.StatusDistribution[j.status]++
		j.mu.Unlock()
	}
	return m
}
