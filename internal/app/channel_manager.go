package app

import (
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type ChannelManagerImpl struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]core.ChannelService
}

func NewChannelManager(preset ...domain.Channel) *ChannelManagerImpl {
	m := &ChannelManagerImpl{channels: make(map[domain.ChannelID]core.ChannelService)}
	for _, ch := range preset {
		m.Create(ch.ID, ch.Name)
	}
	return m
}

func (m *ChannelManagerImpl) Get(id domain.ChannelID) (core.ChannelService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Create returns channel id, creating it when missing.
func (m *ChannelManagerImpl) Create(id domain.ChannelID, name string) core.ChannelService {
	m.mu.RLock()
	ch, ok := m.channels[id]
	m.mu.RUnlock()
	if ok {
		return ch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok = m.channels[id]; ok {
		return ch
	}
	if name == "" {
		name = string(id)
	}
	ch = core.NewChannelService(&domain.Channel{ID: id, Name: name})
	m.channels[id] = ch
	return ch
}

func (m *ChannelManagerImpl) List() []core.ChannelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.ChannelInfo, 0, len(m.channels))
	for id, ch := range m.channels {
		out = append(out, core.ChannelInfo{ID: id, Name: ch.Channel().Name, MemberCount: ch.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *ChannelManagerImpl) Remove(id domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}
