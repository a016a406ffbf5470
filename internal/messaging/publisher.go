package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fiction-server/pkg/imagejobs"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	appID          = "fiction-server"
	publishTimeout = 10 * time.Second
	publishRetries = 3
	defaultBuffer  = 256
)

// ErrPublisherClosed публикация после Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Channel часть *amqp.Channel, нужная публикатору.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ImageJobEvent сообщение о смене статуса задачи на изображение.
type ImageJobEvent struct {
	JobID       string           `json:"job_id"`
	SessionID   string           `json:"session_id,omitempty"`
	SceneID     string           `json:"scene_id"`
	Mode        imagejobs.Mode   `json:"mode"`
	Status      imagejobs.Status `json:"status"`
	Progress    int              `json:"progress"`
	URL         string           `json:"url,omitempty"`
	FallbackURL string           `json:"fallback_url,omitempty"`
	ParentJobID string           `json:"parent_job_id,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewImageJobEvent собирает событие из отчёта конвейера.
func NewImageJobEvent(r imagejobs.Report, at time.Time) ImageJobEvent {
	return ImageJobEvent{
		JobID:       r.JobID,
		SessionID:   r.OwnerID,
		SceneID:     r.SceneID,
		Mode:        r.Mode,
		Status:      r.Status,
		Progress:    r.Progress,
		URL:         r.URL,
		FallbackURL: r.FallbackURL,
		ParentJobID: r.ParentJobID,
		Error:       r.Error,
		Timestamp:   at,
	}
}

// ImageEventPublisher отправляет обновления задач в очередь RabbitMQ.
// Handle не блокирует: события буферизуются и публикуются из Run.
type ImageEventPublisher struct {
	channel   Channel
	queueName string
	logger    *zap.Logger
	backoff   time.Duration

	events    chan ImageJobEvent
	started   atomic.Bool
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewImageEventPublisher открывает канал и объявляет durable очередь.
func NewImageEventPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*ImageEventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("image event publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("image event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	return NewPublisherWithChannel(ch, queueName, defaultBuffer, logger), nil
}

// NewPublisherWithChannel создаёт публикатор поверх готового канала.
func NewPublisherWithChannel(ch Channel, queueName string, buffer int, logger *zap.Logger) *ImageEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &ImageEventPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("ImageEventPublisher").With(zap.String("queue", queueName)),
		backoff:   100 * time.Millisecond,
		events:    make(chan ImageJobEvent, buffer),
		done:      make(chan struct{}),
	}
}

// Handle подходит для imagejobs.Pipeline.OnUpdate. Переполненный буфер
// отбрасывает событие.
func (p *ImageEventPublisher) Handle(r imagejobs.Report) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- NewImageJobEvent(r, time.Now().UTC()):
	default:
		p.logger.Warn("Event buffer full, dropping image job update",
			zap.String("jobID", r.JobID), zap.String("status", string(r.Status)))
	}
}

// Run публикует события до отмены ctx или Close.
func (p *ImageEventPublisher) Run(ctx context.Context) {
	p.started.Store(true)
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Error("Failed to publish image job event", zap.String("jobID", ev.JobID), zap.Error(err))
			}
		}
	}
}

// Publish отправляет одно событие с повторами.
func (p *ImageEventPublisher) Publish(ctx context.Context, ev ImageJobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга события %s: %w", ev.JobID, err)
	}
	return p.publishMessage(ctx, body)
}

func (p *ImageEventPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishRetries; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        appID,
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("публикация в очередь %s прервана: %w", p.queueName, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
}

// Close прекращает приём событий, дожидается Run (если запущен), публикует
// оставшиеся в буфере события и закрывает канал.
func (p *ImageEventPublisher) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()

		drained := true
		if p.started.Load() {
			select {
			case <-p.done:
			case <-ctx.Done():
				drained = false
			}
		}
		if drained {
			// Run мог остановиться по своему ctx, не опустошив буфер.
			p.drain(ctx)
		}
		if cerr := p.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = cerr
		}
	})
	return err
}

func (p *ImageEventPublisher) drain(ctx context.Context) {
	for ev := range p.events {
		if ctx.Err() != nil {
			p.logger.Warn("Shutdown deadline reached, dropping buffered image job updates",
				zap.Int("remaining", len(p.events)+1))
			return
		}
		if err := p.Publish(ctx, ev); err != nil {
			p.logger.Error("Failed to publish image job event", zap.String("jobID", ev.JobID), zap.Error(err))
		}
	}
}
