// Package membership tracks which participants belong to which channel and
// executes membership moves against the remote roster authority.
package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
	"github.com/rs/zerolog/log"
)

// Renegotiator is the media side a membership change has to be reflected in.
type Renegotiator interface {
	// SwitchChannel tears down the current channel's peers and sets up the
	// peers of to. The remote roster has already been updated.
	SwitchChannel(ctx context.Context, to domain.ChannelID) error
	// DropPeer closes the link to a participant that left the local channel.
	DropPeer(pid domain.ParticipantID)
	CurrentChannel() (domain.ChannelID, bool)
}

type member struct {
	participant domain.Participant
	active      bool
	speaking    bool
}

type channelState struct {
	info    domain.Channel
	members map[domain.ParticipantID]*member
}

type Coordinator struct {
	self domain.ParticipantID
	svc  core.MembershipService

	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelState
	where    map[domain.ParticipantID]domain.ChannelID
	session  Renegotiator
}

func NewCoordinator(self domain.ParticipantID, svc core.MembershipService) *Coordinator {
	return &Coordinator{
		self:     self,
		svc:      svc,
		channels: make(map[domain.ChannelID]*channelState),
		where:    make(map[domain.ParticipantID]domain.ChannelID),
	}
}

func (c *Coordinator) SetSession(r Renegotiator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = r
}

// AddChannel makes ch a valid move target. Adding a known channel only
// refreshes its name.
func (c *Coordinator) AddChannel(ch domain.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.channels[ch.ID]; ok {
		st.info = ch
		return
	}
	c.channels[ch.ID] = &channelState{info: ch, members: make(map[domain.ParticipantID]*member)}
}

// Sync loads the channel list from the membership service.
func (c *Coordinator) Sync(ctx context.Context) error {
	chs, err := c.svc.Channels(ctx)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		c.AddChannel(ch)
	}
	log.Debug().Str("module", "membership").Int("channels", len(chs)).Msg("channels synced")
	return nil
}

func (c *Coordinator) Channels() []domain.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Channel, 0, len(c.channels))
	for _, st := range c.channels {
		out = append(out, st.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyRoster replaces the member set of ch with members, as returned by a
// join.
func (c *Coordinator) ApplyRoster(ch domain.ChannelID, members []domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.ensure(ch)
	for id := range st.members {
		delete(c.where, id)
	}
	st.members = make(map[domain.ParticipantID]*member, len(members))
	for _, p := range members {
		c.put(ch, p)
	}
	if m, ok := st.members[c.self]; ok {
		m.active = true
	}
}

func (c *Coordinator) ApplyJoin(ch domain.ChannelID, p domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(ch)
	c.put(ch, p)
}

func (c *Coordinator) ApplyLeave(ch domain.ChannelID, pid domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.where[pid] != ch {
		return
	}
	c.remove(pid)
}

func (c *Coordinator) ChannelOf(pid domain.ParticipantID) (domain.ChannelID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.where[pid]
	return ch, ok
}

// Members lists the participants of ch ordered by id.
func (c *Coordinator) Members(ch domain.ChannelID) []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.channels[ch]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(st.members))
	for _, m := range st.members {
		p := m.participant
		p.Speaking = m.speaking
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MoveParticipant moves pid into target. Local state changes only after the
// membership service acknowledged the move.
func (c *Coordinator) MoveParticipant(ctx context.Context, pid domain.ParticipantID, target domain.ChannelID) error {
	logger := log.With().Str("module", "membership").Str("participant", string(pid)).Str("channel", string(target)).Logger()

	c.mu.RLock()
	from, member := c.where[pid]
	_, known := c.channels[target]
	c.mu.RUnlock()
	if !member {
		return &core.NotMemberError{ParticipantID: pid}
	}
	if !known {
		return &core.UnknownChannelError{ChannelID: target}
	}

	if err := c.svc.Move(ctx, pid, target); err != nil {
		logger.Warn().Err(err).Msg("move rejected")
		return err
	}
	logger.Info().Str("from", string(from)).Msg("participant moved")
	return c.moved(ctx, pid, from, target)
}

// moved applies an acknowledged move and renegotiates the media side.
func (c *Coordinator) moved(ctx context.Context, pid domain.ParticipantID, from, to domain.ChannelID) error {
	c.mu.Lock()
	var p domain.Participant
	if st, ok := c.channels[from]; ok {
		if m, ok := st.members[pid]; ok {
			p = m.participant
		}
	}
	if p.ID == "" {
		p = domain.Participant{ID: pid}
	}
	c.ensure(to)
	c.put(to, p)
	if pid == c.self {
		c.channels[to].members[pid].active = true
	}
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	local, inSession := session.CurrentChannel()
	switch {
	case pid == c.self:
		if inSession && local == to {
			return nil
		}
		return session.SwitchChannel(ctx, to)
	case inSession && local == from && from != to:
		session.DropPeer(pid)
	}
	return nil
}

// UpdateChannelStatus overwrites the flags of one member of ch. It is a
// local projection update only.
func (c *Coordinator) UpdateChannelStatus(ch domain.ChannelID, status domain.MemberStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.channels[ch]
	if !ok {
		return &core.UnknownChannelError{ChannelID: ch}
	}
	m, ok := st.members[status.ParticipantID]
	if !ok {
		return &core.NotMemberError{ParticipantID: status.ParticipantID}
	}
	m.active = status.Active
	m.speaking = status.Speaking
	return nil
}

// Status derives the status of ch from its members' current flags.
func (c *Coordinator) Status(ch domain.ChannelID) (domain.ChannelStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.channels[ch]
	if !ok {
		return domain.ChannelStatus{}, &core.UnknownChannelError{ChannelID: ch}
	}
	members := make([]domain.MemberStatus, 0, len(st.members))
	for id, m := range st.members {
		members = append(members, domain.MemberStatus{ParticipantID: id, Active: m.active, Speaking: m.speaking})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ParticipantID < members[j].ParticipantID })
	return domain.DeriveStatus(ch, members), nil
}

// Run applies roster notifications and speaking/peer events until ctx is
// done or both inputs are closed.
func (c *Coordinator) Run(ctx context.Context, roster <-chan core.RosterEvent, evs <-chan events.Event) {
	logger := log.With().Str("module", "membership").Logger()
	for roster != nil || evs != nil {
		select {
		case <-ctx.Done():
			return
		case re, ok := <-roster:
			if !ok {
				roster = nil
				continue
			}
			if err := c.applyRoster(ctx, re); err != nil {
				logger.Error().Err(err).Str("kind", string(re.Kind)).Msg("apply roster event")
			}
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			c.applyEvent(ev)
		}
	}
}

func (c *Coordinator) applyRoster(ctx context.Context, re core.RosterEvent) error {
	pid := re.Participant.ID
	switch re.Kind {
	case core.MemberJoined:
		c.ApplyJoin(re.To, re.Participant)
	case core.MemberLeft:
		c.ApplyLeave(re.From, pid)
		c.mu.RLock()
		session := c.session
		c.mu.RUnlock()
		if session == nil || pid == c.self {
			return nil
		}
		if local, ok := session.CurrentChannel(); ok && local == re.From {
			session.DropPeer(pid)
		}
	case core.MemberMoved:
		return c.moved(ctx, pid, re.From, re.To)
	}
	return nil
}

func (c *Coordinator) applyEvent(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := ev.(type) {
	case events.SpeakingState:
		if m := c.lookup(e.ParticipantID); m != nil {
			m.speaking = e.IsSpeaking
		}
	case events.PeerState:
		if m := c.lookup(e.ParticipantID); m != nil {
			m.active = e.State == core.StateConnected
			if e.State != core.StateConnected {
				m.speaking = false
			}
		}
	}
}

func (c *Coordinator) lookup(pid domain.ParticipantID) *member {
	ch, ok := c.where[pid]
	if !ok {
		return nil
	}
	return c.channels[ch].members[pid]
}

func (c *Coordinator) ensure(ch domain.ChannelID) *channelState {
	st, ok := c.channels[ch]
	if !ok {
		st = &channelState{info: domain.Channel{ID: ch, Name: string(ch)}, members: make(map[domain.ParticipantID]*member)}
		c.channels[ch] = st
	}
	return st
}

// put places p in ch, leaving any other channel first.
func (c *Coordinator) put(ch domain.ChannelID, p domain.Participant) {
	if prev, ok := c.where[p.ID]; ok && prev != ch {
		c.remove(p.ID)
	}
	p.Channel = &ch
	st := c.channels[ch]
	if m, ok := st.members[p.ID]; ok {
		m.participant = p
	} else {
		st.members[p.ID] = &member{participant: p, speaking: p.Speaking}
	}
	c.where[p.ID] = ch
}

func (c *Coordinator) remove(pid domain.ParticipantID) {
	ch, ok := c.where[pid]
	if !ok {
		return
	}
	delete(c.channels[ch].members, pid)
	delete(c.where, pid)
}
