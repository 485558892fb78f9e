package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	clientQueue       = 64
	defaultPingPeriod = 30 * time.Second
)

type ClientOptions struct {
	PingPeriod time.Duration
	Header     http.Header
}

// Client is the participant side of the signaling socket. It is the
// membership service, the signaling transport and the transport
// configuration provider of one session.
type Client struct {
	conn   *websocket.Conn
	self   domain.Participant
	send   chan []byte
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan Envelope

	signals chan core.InboundSignal
	roster  chan core.RosterEvent
}

// Dial connects to the signaling endpoint and introduces the participant
// under name.
func Dial(ctx context.Context, url, name string, opts ClientOptions) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Jar:              jar,
	}
	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    ws,
		send:    make(chan []byte, clientQueue),
		logger:  log.With().Str("module", "signal").Logger(),
		ctx:     cctx,
		cancel:  cancel,
		pending: make(map[string]chan Envelope),
		signals: make(chan core.InboundSignal, clientQueue),
		roster:  make(chan core.RosterEvent, clientQueue),
	}
	c.wg.Add(2)
	go c.writeLoop(opts.PingPeriod)
	go c.readLoop()

	resp, err := c.request(ctx, Envelope{Type: TypeHello, Name: name})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if resp.Participant == nil {
		_ = c.Close()
		return nil, &core.RemoteRejectionError{Op: TypeHello, Reason: "no participant in reply"}
	}
	c.self = *resp.Participant
	c.logger = c.logger.With().Str("participant", string(c.self.ID)).Logger()
	c.logger.Info().Str("name", c.self.Name).Msg("connected")
	return c, nil
}

func (c *Client) Self() domain.Participant { return c.self }

func (c *Client) Join(ctx context.Context, ch domain.ChannelID, _ domain.ParticipantID) ([]domain.Participant, error) {
	resp, err := c.request(ctx, Envelope{Type: TypeJoin, Channel: ch})
	if err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Client) Leave(ctx context.Context, ch domain.ChannelID, _ domain.ParticipantID) error {
	_, err := c.request(ctx, Envelope{Type: TypeLeave, Channel: ch})
	return err
}

func (c *Client) Move(ctx context.Context, pid domain.ParticipantID, target domain.ChannelID) error {
	_, err := c.request(ctx, Envelope{Type: TypeMove, Channel: target, Participant: &domain.Participant{ID: pid}})
	return err
}

func (c *Client) Channels(ctx context.Context) ([]domain.Channel, error) {
	resp, err := c.request(ctx, Envelope{Type: TypeChannels})
	if err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

func (c *Client) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	resp, err := c.request(ctx, Envelope{Type: TypeICEConfig})
	if err != nil {
		return nil, err
	}
	return resp.ICEServers, nil
}

// SendSignal is fire-and-forget; relay failures come back as unsolicited
// errors and are only logged.
func (c *Client) SendSignal(ctx context.Context, to domain.ParticipantID, msg core.SignalMessage) error {
	return c.write(ctx, Envelope{Type: TypeSignal, To: to, Payload: &msg})
}

func (c *Client) Signals() <-chan core.InboundSignal { return c.signals }

// RosterEvents must be drained; the socket stalls while it is full.
func (c *Client) RosterEvents() <-chan core.RosterEvent { return c.roster }

func (c *Client) request(ctx context.Context, env Envelope) (Envelope, error) {
	env.ID = strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan Envelope, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return Envelope{}, core.ErrClosed
	}
	c.pending[env.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
	}()

	if err := c.write(ctx, env); err != nil {
		return Envelope{}, err
	}
	select {
	case resp, ok := <-reply:
		if !ok {
			return Envelope{}, core.ErrClosed
		}
		if resp.Type == TypeError {
			return Envelope{}, &core.RemoteRejectionError{Op: env.Type, Reason: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.ctx.Done():
		return Envelope{}, core.ErrClosed
	}
}

func (c *Client) write(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return core.ErrClosed
	}
}

func (c *Client) writeLoop(pingPeriod time.Duration) {
	defer c.wg.Done()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	pingFrame, _ := json.Marshal(Envelope{Type: TypePing})

	for {
		var data []byte
		select {
		case <-c.ctx.Done():
			return
		case <-ping.C:
			data = pingFrame
		case data = <-c.send:
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error().Err(err).Msg("writeLoop set deadline")
			c.cancel()
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error().Err(err).Msg("writeLoop write error")
			c.cancel()
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer func() {
		c.cancel()
		c.mu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = nil
		c.mu.Unlock()
		close(c.signals)
		close(c.roster)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("readLoop read error")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("bad json")
			continue
		}
		if !c.dispatch(env) {
			return
		}
	}
}

// dispatch routes one inbound envelope. It reports false once the client is
// shutting down.
func (c *Client) dispatch(env Envelope) bool {
	switch env.Type {
	case TypeAck, TypeError:
		if env.ID == "" {
			c.logger.Warn().Str("error", env.Error).Msg("server error")
			return true
		}
		c.mu.Lock()
		reply, ok := c.pending[env.ID]
		c.mu.Unlock()
		if ok {
			reply <- env
		}
	case TypeSignal:
		if env.Payload == nil {
			return true
		}
		select {
		case c.signals <- core.InboundSignal{From: env.From, Message: *env.Payload}:
		case <-c.ctx.Done():
			return false
		}
	case TypeMemberJoined, TypeMemberLeft, TypeMemberMoved:
		if env.Participant == nil {
			return true
		}
		ev := core.RosterEvent{
			Kind:        core.RosterEventKind(env.Type),
			Participant: *env.Participant,
			From:        env.FromChannel,
			To:          env.Channel,
		}
		select {
		case c.roster <- ev:
		case <-c.ctx.Done():
			return false
		}
	case TypePong:
	default:
		c.logger.Debug().Str("type", env.Type).Msg("unknown message")
	}
	return true
}

// Close shuts the socket and waits for the loops to exit.
func (c *Client) Close() error {
	c.cancel()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
