package signal

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards a negotiation payload to one channel mate, stamped
// with the sender.
func (ctl *SignalWSController) handleRelay(sid core.SessionID, conn *WsSignalConn, env Envelope) {
	if env.To == "" || env.Payload == nil {
		ctl.sendJSON(conn, replyError(env.ID, "bad_payload"))
		return
	}
	out := Envelope{Type: TypeSignal, From: domain.ParticipantID(sid), Payload: env.Payload}
	b, err := encode(out)
	if err != nil {
		return
	}
	if err := ctl.Orch.Relay(sid, env.To, b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("to", string(env.To)).Msg("relay")
		ctl.sendJSON(conn, replyError(env.ID, reason(err)))
	}
}
