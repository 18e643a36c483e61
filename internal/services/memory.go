package services

import (
	"context"
	"sync"

	"github.com/oogiv/oogiv-web/internal/session"
)

// Memory keeps session storage in process memory. Everything is lost on restart.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]map[string]string
}

type memorySession struct {
	m  *Memory
	id string
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string]string)}
}

// Session returns the storage of the session sessionID.
func (m *Memory) Session(sessionID string) session.Storage {
	return memorySession{m: m, id: sessionID}
}

func (s memorySession) Get(_ context.Context, key string) (string, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.sessions[s.id][key]
	return v, ok, nil
}

func (s memorySession) Set(_ context.Context, key, value string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	values, ok := s.m.sessions[s.id]
	if !ok {
		values = make(map[string]string)
		s.m.sessions[s.id] = values
	}
	values[key] = value
	return nil
}

func (s memorySession) Delete(_ context.Context, keys ...string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, key := range keys {
		delete(s.m.sessions[s.id], key)
	}
	return nil
}
