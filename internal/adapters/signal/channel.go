package signal

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

func reason(err error) string {
	var nm *core.NotMemberError
	var uc *core.UnknownChannelError
	switch {
	case errors.As(err, &nm):
		return "not_member"
	case errors.As(err, &uc):
		return "unknown_channel"
	default:
		return err.Error()
	}
}

func (ctl *SignalWSController) handleChannels(conn *WsSignalConn, env Envelope) {
	resp := ack(env.ID)
	for _, info := range ctl.Orch.Channels.List() {
		resp.Channels = append(resp.Channels, domain.Channel{ID: info.ID, Name: info.Name})
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, env Envelope) {
	members, from, err := ctl.Orch.Join(sid, env.Channel)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("channel", string(env.Channel)).Msg("join")
		ctl.sendJSON(conn, replyError(env.ID, reason(err)))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("channel", string(env.Channel)).Msg("join")

	resp := ack(env.ID)
	resp.Channel = env.Channel
	resp.Members = members
	ctl.sendJSON(conn, resp)

	p, _ := ctl.Orch.Registry.Participant(sid)
	if from != "" {
		ctl.NotifyChannel(from, p.ID, Envelope{Type: TypeMemberLeft, FromChannel: from, Participant: &p})
	}
	ctl.NotifyChannel(env.Channel, p.ID, Envelope{Type: TypeMemberJoined, Channel: env.Channel, Participant: &p})
}

// handleLeave takes the participant out of the channel; the socket stays
// open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn, env Envelope) {
	if err := ctl.Orch.Leave(sid, env.Channel); err != nil {
		ctl.sendJSON(conn, replyError(env.ID, reason(err)))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("channel", string(env.Channel)).Msg("leave")
	ctl.sendJSON(conn, ack(env.ID))

	p, _ := ctl.Orch.Registry.Participant(sid)
	ctl.NotifyChannel(env.Channel, p.ID, Envelope{Type: TypeMemberLeft, FromChannel: env.Channel, Participant: &p})
}

// handleMove moves any participant; both channels and the moved participant
// are told.
func (ctl *SignalWSController) handleMove(sid core.SessionID, conn *WsSignalConn, env Envelope) {
	if env.Participant == nil {
		ctl.sendJSON(conn, replyError(env.ID, "bad_payload"))
		return
	}
	pid := env.Participant.ID
	from, err := ctl.Orch.Move(pid, env.Channel)
	if err != nil {
		ctl.sendJSON(conn, replyError(env.ID, reason(err)))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("participant", string(pid)).Str("channel", string(env.Channel)).Msg("move")
	ctl.sendJSON(conn, ack(env.ID))
	if from == env.Channel {
		return
	}

	p, _ := ctl.Orch.Registry.Participant(core.SessionID(pid))
	note := Envelope{Type: TypeMemberMoved, FromChannel: from, Channel: env.Channel, Participant: &p}
	ctl.NotifyChannel(from, "", note)
	ctl.NotifyChannel(env.Channel, "", note)
}
