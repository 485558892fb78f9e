package core

import (
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberSession struct {
	meta   *domain.Participant
	signal SignalConnection
}

func NewMemberSession(meta *domain.Participant, signal SignalConnection) MemberSession {
	return &memberSession{meta: meta, signal: signal}
}

func (m *memberSession) Meta() *domain.Participant { return m.meta }
func (m *memberSession) Signal() SignalConnection  { return m.signal }

// channelImpl is a threadsafe in-memory channel roster.
// It never closes adapter-owned resources.
type channelImpl struct {
	channel *domain.Channel
	mu      sync.RWMutex
	members map[domain.ParticipantID]MemberSession
}

func NewChannelService(ch *domain.Channel) ChannelService {
	return &channelImpl{
		channel: ch,
		members: make(map[domain.ParticipantID]MemberSession),
	}
}

func (c *channelImpl) Channel() *domain.Channel { return c.channel }

func (c *channelImpl) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

func (c *channelImpl) Member(pid domain.ParticipantID) (MemberSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.members[pid]
	return ms, ok
}

func (c *channelImpl) AddMember(ms MemberSession) {
	pid := ms.Meta().ID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[pid] = ms
	log.Info().Str("module", "core.channel").Str("channel", string(c.channel.ID)).Str("participant", string(pid)).Msg("member added")
}

func (c *channelImpl) RemoveMember(pid domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[pid]; !ok {
		return
	}
	delete(c.members, pid)
	log.Info().Str("module", "core.channel").Str("channel", string(c.channel.ID)).Str("participant", string(pid)).Msg("member removed")
}

func (c *channelImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	for pid, m := range c.members {
		if pid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.channel").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// MembersSnapshot is sorted by participant id so replies are stable.
func (c *channelImpl) MembersSnapshot() []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Participant, 0, len(c.members))
	for _, ms := range c.members {
		out = append(out, *ms.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
