package app

import (
	"context"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Channel domain.ChannelID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps connected sessions to their participant and channel. The
// session id doubles as the participant id.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[core.SessionID]*sessionEntry
	participants map[core.SessionID]*domain.Participant
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[core.SessionID]*sessionEntry),
		participants: make(map[core.SessionID]*domain.Participant),
	}
}

func (r *Registry) GetOrCreateParticipant(sid core.SessionID) *domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[sid]; ok {
		return p
	}
	p := &domain.Participant{ID: domain.ParticipantID(sid), Name: "guest"}
	r.participants[sid] = p
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created new participant")
	return p
}

// Participant returns a copy of the participant bound to sid.
func (r *Registry) Participant(sid core.SessionID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[sid]
	if !ok {
		return domain.Participant{}, false
	}
	out := *p
	if e, ok := r.sessions[sid]; ok && e.Channel != "" {
		ch := e.Channel
		out.Channel = &ch
	}
	return out, true
}

func (r *Registry) UpdateName(sid core.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[sid]
	if !ok {
		return &core.NotMemberError{ParticipantID: domain.ParticipantID(sid)}
	}
	if err := p.SetName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("name", name).Msg("updated name")
	return nil
}

// BindSignal attaches a fresh signaling session to sid, replacing any
// previous one.
func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// UnbindIf removes sid only while it is still bound to sess.
func (r *Registry) UnbindIf(sid core.SessionID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) ChannelOf(sid core.SessionID) (domain.ChannelID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Channel == "" {
		return "", nil, false
	}
	return entry.Channel, entry.Session, true
}

func (r *Registry) UpdateChannel(sid core.SessionID, ch domain.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Channel = ch
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("channel", string(ch)).Msg("updated channel")
	return true
}

func (r *Registry) RemoveChannel(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Channel = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed channel association")
}

type RegSnap struct {
	SID     core.SessionID
	Session core.MemberSession
}

func (r *Registry) MembersOfChannel(ch domain.ChannelID) []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Channel == ch {
			out = append(out, RegSnap{SID: sid, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
