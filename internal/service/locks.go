package service

import "sync"

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks сериализует ходы одной сессии. Записи удаляются, когда их никто не держит.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*keyedLock)}
}

// Lock захватывает блокировку сессии и возвращает функцию освобождения.
func (s *sessionLocks) Lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &keyedLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
