// Package signal carries the signaling socket: the server side controller
// that relays negotiation between channel mates and answers membership
// requests, and the client that speaks to it.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const sendQueue = 32

type Options struct {
	ICEServers   []webrtc.ICEServer
	ReadLimit    int64
	PingPeriod   time.Duration
	RateLimit    int
	RateInterval time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, sendQueue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// NotifyChannel sends v to every member of ch except one.
func (ctl *SignalWSController) NotifyChannel(ch domain.ChannelID, except domain.ParticipantID, v Envelope) {
	b, err := encode(v)
	if err != nil {
		return
	}
	ctl.Orch.Notify(ch, except, b)
}

// EvictChannel removes a channel and tells its former members they left.
func (ctl *SignalWSController) EvictChannel(ch domain.ChannelID) {
	for _, sid := range ctl.Orch.EvictChannel(ch) {
		sess, ok := ctl.Orch.Registry.GetSession(sid)
		if !ok {
			continue
		}
		p, _ := ctl.Orch.Registry.Participant(sid)
		ctl.sendJSON(sess.Signal(), Envelope{Type: TypeMemberLeft, FromChannel: ch, Participant: &p})
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := newWsSignalConn(ws)
	participant := ctl.Orch.Registry.GetOrCreateParticipant(sid)
	sess := core.NewMemberSession(participant, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, sess, conn)
}
