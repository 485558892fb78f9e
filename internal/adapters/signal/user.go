package signal

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/rs/zerolog/log"
)

// handleHello sets the display name and tells the client who it is.
func (ctl *SignalWSController) handleHello(sid core.SessionID, conn *WsSignalConn, env Envelope) {
	if env.Name != "" {
		if err := ctl.Orch.Registry.UpdateName(sid, env.Name); err != nil {
			ctl.sendJSON(conn, replyError(env.ID, "invalid_name"))
			return
		}
	}
	p, ok := ctl.Orch.Registry.Participant(sid)
	if !ok {
		ctl.sendJSON(conn, replyError(env.ID, "no_session"))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("hello")

	resp := ack(env.ID)
	resp.Participant = &p
	ctl.sendJSON(conn, resp)

	if p.Channel != nil {
		ctl.NotifyChannel(*p.Channel, p.ID, Envelope{Type: TypeMemberJoined, Channel: *p.Channel, Participant: &p})
	}
}
