package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"fiction-server/internal/domain"
)

// MemorySessionStore хранит сессии в памяти процесса.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) Save(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("save session: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	out := make([]domain.SessionSummary, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Summary())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.SessionSummary) int { return b.LastActivity.Compare(a.LastActivity) })
	if len(out) > listLimit {
		out = out[:listLimit]
	}
	return out, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// MemoryTraceLog журнал ходов в памяти. Для каждой сессии хранится не
// больше perSession последних записей.
type MemoryTraceLog struct {
	mu         sync.RWMutex
	perSession int
	traces     map[string][]*domain.Trace
}

// NewMemoryTraceLog создаёт журнал. perSession <= 0 снимает ограничение.
func NewMemoryTraceLog(perSession int) *MemoryTraceLog {
	return &MemoryTraceLog{perSession: perSession, traces: make(map[string][]*domain.Trace)}
}

func (l *MemoryTraceLog) Append(_ context.Context, trace *domain.Trace) error {
	if trace == nil {
		return fmt.Errorf("append trace: nil trace")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append(l.traces[trace.SessionID], trace)
	if l.perSession > 0 && len(list) > l.perSession {
		list = list[len(list)-l.perSession:]
	}
	l.traces[trace.SessionID] = list
	return nil
}

// ListBySession возвращает последние limit записей, новые первыми.
func (l *MemoryTraceLog) ListBySession(_ context.Context, sessionID string, limit int) ([]*domain.Trace, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.traces[sessionID]
	out := make([]*domain.Trace, 0, min(len(list), max(limit, 0)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
