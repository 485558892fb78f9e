package orch

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join puts sid into chID and returns the channel roster, sid included.
// Joining the current channel again only returns the roster. from is the
// channel sid had to leave, if any.
func (o *Orchestrator) Join(sid core.SessionID, chID domain.ChannelID) (members []domain.Participant, from domain.ChannelID, err error) {
	ch, ok := o.Channels.Get(chID)
	if !ok {
		return nil, "", &core.UnknownChannelError{ChannelID: chID}
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, "", core.ErrNoSession
	}

	if cur, _, ok := o.Registry.ChannelOf(sid); ok {
		if cur == chID {
			return ch.MembersSnapshot(), "", nil
		}
		o.cleanupMembership(sid)
		from = cur
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_channel", string(cur)).Msg("left previous channel")
	}

	o.Registry.UpdateChannel(sid, chID)
	ch.AddMember(session)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(chID)).Msg("added to channel")
	return ch.MembersSnapshot(), from, nil
}

func (o *Orchestrator) Leave(sid core.SessionID, chID domain.ChannelID) error {
	cur, _, ok := o.Registry.ChannelOf(sid)
	if !ok || cur != chID {
		return &core.NotMemberError{ParticipantID: domain.ParticipantID(sid)}
	}
	o.cleanupMembership(sid)
	return nil
}

// Move transfers pid to target and returns the channel it came from.
func (o *Orchestrator) Move(pid domain.ParticipantID, target domain.ChannelID) (domain.ChannelID, error) {
	sid := core.SessionID(pid)
	from, session, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return "", &core.NotMemberError{ParticipantID: pid}
	}
	to, ok := o.Channels.Get(target)
	if !ok {
		return "", &core.UnknownChannelError{ChannelID: target}
	}
	if from == target {
		return from, nil
	}

	if src, ok := o.Channels.Get(from); ok {
		src.RemoveMember(pid)
	}
	to.AddMember(session)
	o.Registry.UpdateChannel(sid, target)
	log.Info().Str("module", "orch").Str("participant", string(pid)).Str("from", string(from)).Str("to", string(target)).Msg("moved")
	return from, nil
}

// OnDisconnect drops sess from its channel and the registry unless sid was
// bound again in the meantime. It reports the channel left.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, sess core.MemberSession) (domain.ChannelID, bool) {
	cur, bound, ok := o.Registry.ChannelOf(sid)
	if ok && bound == sess {
		o.cleanupMembership(sid)
	}
	o.Registry.UnbindIf(sid, sess)
	return cur, ok && bound == sess
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	chID, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	if ch, ok := o.Channels.Get(chID); ok {
		ch.RemoveMember(domain.ParticipantID(sid))
	}
	o.Registry.RemoveChannel(sid)
}

// EvictChannel removes every member of chID and then the channel itself.
func (o *Orchestrator) EvictChannel(chID domain.ChannelID) []core.SessionID {
	var evicted []core.SessionID
	for _, snap := range o.Registry.MembersOfChannel(chID) {
		o.cleanupMembership(snap.SID)
		evicted = append(evicted, snap.SID)
	}
	o.Channels.Remove(chID)
	return evicted
}
