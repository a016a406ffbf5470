package mocks

import (
	"context"
	"time"

	"fiction-server/internal/domain"
	"fiction-server/internal/service"
	"fiction-server/pkg/imagejobs"

	"github.com/stretchr/testify/mock"
)

// NarrationGenerator mock
type NarrationGenerator struct {
	mock.Mock
}

func (m *NarrationGenerator) Generate(ctx context.Context, req domain.NarrationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// SessionStore mock
type SessionStore struct {
	mock.Mock
}

func (m *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	session, _ := args.Get(0).(*domain.Session)
	return session, args.Error(1)
}

func (m *SessionStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.SessionSummary)
	return list, args.Error(1)
}

func (m *SessionStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// TraceRecorder mock
type TraceRecorder struct {
	mock.Mock
}

func (m *TraceRecorder) Append(ctx context.Context, trace *domain.Trace) error {
	args := m.Called(ctx, trace)
	return args.Error(0)
}

func (m *TraceRecorder) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error) {
	args := m.Called(ctx, sessionID, limit)
	traces, _ := args.Get(0).([]*domain.Trace)
	return traces, args.Error(1)
}

// ImagePipeline mock
type ImagePipeline struct {
	mock.Mock
}

func (m *ImagePipeline) RequestImage(ctx context.Context, req imagejobs.Request) (imagejobs.Ticket, error) {
	args := m.Called(ctx, req)
	ticket, _ := args.Get(0).(imagejobs.Ticket)
	return ticket, args.Error(1)
}

func (m *ImagePipeline) RerenderHQ(ctx context.Context, jobID string) (imagejobs.Ticket, error) {
	args := m.Called(ctx, jobID)
	ticket, _ := args.Get(0).(imagejobs.Ticket)
	return ticket, args.Error(1)
}

func (m *ImagePipeline) GetStatus(jobID string) (imagejobs.Report, error) {
	args := m.Called(jobID)
	report, _ := args.Get(0).(imagejobs.Report)
	return report, args.Error(1)
}

func (m *ImagePipeline) Metrics() imagejobs.Metrics {
	args := m.Called()
	metrics, _ := args.Get(0).(imagejobs.Metrics)
	return metrics
}

// OrchestratorService mock
type OrchestratorService struct {
	mock.Mock
}

func (m *OrchestratorService) SubmitTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*domain.TurnResponse)
	return resp, args.Error(1)
}

func (m *OrchestratorService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	session, _ := args.Get(0).(*domain.Session)
	return session, args.Error(1)
}

func (m *OrchestratorService) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.SessionSummary)
	return list, args.Error(1)
}

func (m *OrchestratorService) ShutdownSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *OrchestratorService) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	args := m.Called(ctx, maxIdle)
	return args.Int(0)
}

func (m *OrchestratorService) TraceFor(ctx context.Context, sessionID string, limit int) ([]*domain.Trace, error) {
	args := m.Called(ctx, sessionID, limit)
	traces, _ := args.Get(0).([]*domain.Trace)
	return traces, args.Error(1)
}

func (m *OrchestratorService) RequestImage(ctx context.Context, sessionID string, img domain.ImageArgs) (imagejobs.Ticket, error) {
	args := m.Called(ctx, sessionID, img)
	ticket, _ := args.Get(0).(imagejobs.Ticket)
	return ticket, args.Error(1)
}

func (m *OrchestratorService) RequestHQ(ctx context.Context, jobID string) (imagejobs.Ticket, error) {
	args := m.Called(ctx, jobID)
	ticket, _ := args.Get(0).(imagejobs.Ticket)
	return ticket, args.Error(1)
}

func (m *OrchestratorService) ImageStatus(jobID string) (imagejobs.Report, error) {
	args := m.Called(jobID)
	report, _ := args.Get(0).(imagejobs.Report)
	return report, args.Error(1)
}

func (m *OrchestratorService) Stats() service.Stats {
	args := m.Called()
	stats, _ := args.Get(0).(service.Stats)
	return stats
}
