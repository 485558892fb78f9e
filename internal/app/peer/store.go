package peer

import (
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
)

// store is the keyed set of live connections, at most one per participant.
type store struct {
	mu    sync.RWMutex
	conns map[domain.ParticipantID]*Connection
}

func newStore() *store {
	return &store{conns: make(map[domain.ParticipantID]*Connection)}
}

// Replace stores c and hands back the entry it displaced. The caller owns the
// old connection and must close it.
func (s *store) Replace(id domain.ParticipantID, c *Connection) (old *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.conns[id]
	s.conns[id] = c
	return old
}

func (s *store) Get(id domain.ParticipantID) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

func (s *store) Remove(id domain.ParticipantID) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	return c, ok
}

// RemoveIf deletes the entry only while it is still c.
func (s *store) RemoveIf(id domain.ParticipantID, c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[id] != c {
		return false
	}
	delete(s.conns, id)
	return true
}

func (s *store) Drain() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for id, c := range s.conns {
		out = append(out, c)
		delete(s.conns, id)
	}
	return out
}

func (s *store) IDs() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
