package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		t := time.NewTicker(ctl.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, sess core.MemberSession, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.disconnect(sid, sess)
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *SignalWSController) disconnect(sid core.SessionID, sess core.MemberSession) {
	ch, left := ctl.Orch.OnDisconnect(sid, sess)
	ctl.limiter.Forget(domain.ParticipantID(sid))
	if !left {
		return
	}
	p := *sess.Meta()
	ctl.NotifyChannel(ch, p.ID, Envelope{Type: TypeMemberLeft, FromChannel: ch, Participant: &p})
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendJSON(c, replyError("", "bad_payload"))
		return
	}
	if !ctl.limiter.Allow(domain.ParticipantID(sid)) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("rate limited")
		ctl.sendJSON(c, replyError(env.ID, "rate_limited"))
		return
	}

	switch env.Type {
	case TypeHello:
		ctl.handleHello(sid, c, env)
	case TypeJoin:
		ctl.handleJoin(sid, c, env)
	case TypeLeave:
		ctl.handleLeave(sid, c, env)
	case TypeMove:
		ctl.handleMove(sid, c, env)
	case TypeChannels:
		ctl.handleChannels(c, env)
	case TypeICEConfig:
		ctl.handleICEConfig(c, env)
	case TypeSignal:
		ctl.handleRelay(sid, c, env)
	case TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendJSON(c, replyError(env.ID, "unknown_type"))
	}
}

func encode(v Envelope) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode marshal")
		return nil, err
	}
	return b, nil
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v Envelope) {
	b, err := encode(v)
	if err != nil {
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", v.Type).Msg("sendJSON")
	}
}
