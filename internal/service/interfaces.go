package service

import (
	"context"

	"fiction-server/internal/domain"
	"fiction-server/pkg/imagejobs"
)

// NarrationGenerator пишет текст хода. Ошибка означает, что будет
// использовано шаблонное повествование.
type NarrationGenerator interface {
	Generate(ctx context.Context, req domain.NarrationRequest) (string, error)
}

// ContentStore каталог сцен и лора только для чтения.
type ContentStore interface {
	GetScene(id string) (domain.Scene, bool)
	GetLocation(id string) (domain.LoreEntry, bool)
	GetNPC(id string) (domain.LoreEntry, bool)
	SearchByKeywords(keywords ...string) []domain.LoreEntry
	Lore() []domain.LoreEntry
	LoreFor(scene domain.Scene) []domain.LoreEntry
}

// SessionStore хранилище сессий. Вызывается на границах хода.
type SessionStore interface {
	Save(ctx context.Context, session *domain.Session) error
	Load(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context) ([]domain.SessionSummary, error)
	Delete(ctx context.Context, id string) error
}

// TraceRecorder журнал ходов.
type TraceRecorder interface {
	Append(ctx context.Context, trace *domain.Trace) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error)
}

// ImagePipeline асинхронная генерация изображений.
type ImagePipeline interface {
	RequestImage(ctx context.Context, req imagejobs.Request) (imagejobs.Ticket, error)
	RerenderHQ(ctx context.Context, jobID string) (imagejobs.Ticket, error)
	GetStatus(jobID string) (imagejobs.Report, error)
	Metrics() imagejobs.Metrics
}
