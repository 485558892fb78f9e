// Package orch is the server-side membership service: it moves sessions
// between channels and relays negotiation frames between channel mates.
package orch

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotChannelMate = errors.New("recipient is not in the sender's channel")

type Orchestrator struct {
	Registry *app.Registry
	Channels *app.ChannelManagerImpl
	Policy   app.Policy
}

// Relay delivers frame to one channel mate of from.
func (o *Orchestrator) Relay(from core.SessionID, to domain.ParticipantID, frame core.Frame) error {
	chID, _, ok := o.Registry.ChannelOf(from)
	if !ok {
		return &core.NotMemberError{ParticipantID: domain.ParticipantID(from)}
	}
	ch, ok := o.Channels.Get(chID)
	if !ok {
		return &core.UnknownChannelError{ChannelID: chID}
	}
	target, ok := ch.Member(to)
	if !ok {
		return ErrNotChannelMate
	}
	if err := target.Signal().TrySend(frame); err != nil {
		o.onDropped(ch, []core.MemberSession{target})
		return err
	}
	return nil
}

// Notify sends frame to every member of chID except the one given.
func (o *Orchestrator) Notify(chID domain.ChannelID, except domain.ParticipantID, frame core.Frame) {
	ch, ok := o.Channels.Get(chID)
	if !ok {
		return
	}
	res := ch.Broadcast(except, frame)
	o.onDropped(ch, res.Dropped)
}

func (o *Orchestrator) onDropped(ch core.ChannelService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(ch, slow) {
		case app.KickMember:
			sid := core.SessionID(slow.Meta().ID)
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("kicking slow member")
			o.Registry.Cancel(sid)
		case app.MarkSlow, app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("participant", string(slow.Meta().ID)).Msg("frame dropped")
		}
	}
}
