// Package peer owns the per-participant media links of one channel session.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/app/quality"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// ErrLinkFailed is the cause recorded when a link keeps reaching the failed
// state after being rebuilt.
var ErrLinkFailed = errors.New("link failed")

type Config struct {
	// MaxRetries bounds both the construction attempts of one
	// CreatePeerConnection call and the consecutive failed links tolerated
	// before a participant is given up.
	MaxRetries int
	RetryDelay time.Duration
	// DisconnectTimeout escalates a link that stays disconnected into a
	// forced reconnect. Zero disables escalation.
	DisconnectTimeout time.Duration
	QualityInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		QualityInterval: quality.DefaultInterval,
	}
}

type Manager struct {
	cfg     Config
	factory core.LinkFactory
	pub     events.Publisher
	store   *store
	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[domain.ParticipantID]*attempt
	closed  bool
}

// attempt is an in-flight establishment that Close or a newer attempt for the
// same participant can cancel.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(parent context.Context, factory core.LinkFactory, pub events.Publisher, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		cfg:     cfg,
		factory: factory,
		pub:     pub,
		store:   newStore(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[domain.ParticipantID]*attempt),
	}
}

func (m *Manager) logger(id domain.ParticipantID) zerolog.Logger {
	return log.With().Str("module", "peer").Str("participant", string(id)).Logger()
}

// CreatePeerConnection builds a link to id, retrying construction failures,
// and stores it in place of any previous connection to id.
func (m *Manager) CreatePeerConnection(ctx context.Context, id domain.ParticipantID) error {
	actx, release, err := m.beginAttempt(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if old, ok := m.store.Remove(id); ok {
		if err := old.close(); err != nil {
			logger := m.logger(id)
			logger.Warn().Err(err).Msg("closing previous connection")
		}
	}

	link, err := m.establish(actx, id)
	if err != nil {
		return err
	}
	return m.install(actx, id, link, 0)
}

// Dispatch hands a negotiation payload to the link for id, creating the
// link on first contact.
func (m *Manager) Dispatch(ctx context.Context, id domain.ParticipantID, msg core.SignalMessage) error {
	c, ok := m.store.Get(id)
	if !ok {
		if done := m.inflight(id); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			c, ok = m.store.Get(id)
		}
	}
	if !ok {
		if err := m.CreatePeerConnection(ctx, id); err != nil {
			return err
		}
		if c, ok = m.store.Get(id); !ok {
			return core.ErrClosed
		}
	}
	return c.link.HandleSignal(msg)
}

// Reconnect tears down the current connection to id and builds a fresh one.
// Concurrent calls for the same participant share one attempt.
func (m *Manager) Reconnect(ctx context.Context, id domain.ParticipantID) error {
	c, _ := m.store.Get(id)
	return m.reconnect(ctx, id, c)
}

func (m *Manager) reconnect(ctx context.Context, id domain.ParticipantID, stale *Connection) error {
	res := m.flights.DoChan(string(id), func() (any, error) {
		return nil, m.doReconnect(id, stale)
	})
	select {
	case r := <-res:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) doReconnect(id domain.ParticipantID, stale *Connection) error {
	logger := m.logger(id)
	var failures int32
	if stale != nil {
		if !m.store.RemoveIf(id, stale) {
			// superseded by a newer connection, which watches itself
			_ = stale.close()
			return nil
		}
		failures = stale.failures.Load()
		if err := stale.close(); err != nil {
			logger.Warn().Err(err).Msg("closing failed connection")
		}
		if int(failures) >= m.cfg.MaxRetries {
			err := &core.ConnectionEstablishmentError{ParticipantID: id, Attempts: int(failures), Err: ErrLinkFailed}
			logger.Warn().Err(err).Msg("giving up on participant")
			m.pub.Publish(events.ReconnectionFailed{ParticipantID: id, Err: err})
			return err
		}
	}

	actx, release, err := m.beginAttempt(m.ctx, id)
	if err != nil {
		return err
	}
	defer release()

	link, err := m.establish(actx, id)
	if err == nil {
		err = m.install(actx, id, link, failures)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug().Msg("reconnect cancelled")
			return err
		}
		logger.Warn().Err(err).Msg("reconnection failed")
		m.pub.Publish(events.ReconnectionFailed{ParticipantID: id, Err: err})
		return err
	}
	logger.Info().Int32("failures", failures).Msg("reconnected")
	m.pub.Publish(events.Reconnected{ParticipantID: id})
	return nil
}

func (m *Manager) establish(ctx context.Context, id domain.ParticipantID) (core.MediaLink, error) {
	r := &retrier{
		participant: id,
		maxAttempts: m.cfg.MaxRetries,
		delay:       m.cfg.RetryDelay,
		logger:      m.logger(id),
	}
	return r.run(ctx, m.factory)
}

// install stores a freshly built link unless its attempt was cancelled in the
// meantime; a cancelled attempt never resurrects a connection.
func (m *Manager) install(actx context.Context, id domain.ParticipantID, link core.MediaLink, failures int32) error {
	cctx, cancel := context.WithCancel(m.ctx)
	c := &Connection{
		ID:      id,
		link:    link,
		monitor: quality.NewMonitor(id, link, m.pub, m.cfg.QualityInterval),
		ctx:     cctx,
		cancel:  cancel,
	}
	c.failures.Store(failures)

	m.mu.Lock()
	if err := actx.Err(); err != nil || m.closed {
		m.mu.Unlock()
		_ = c.close()
		if err == nil {
			err = core.ErrClosed
		}
		return err
	}
	old := m.store.Replace(id, c)
	m.wg.Add(1)
	m.mu.Unlock()

	if old != nil {
		_ = old.close()
	}
	c.monitor.StartMonitoring(cctx)
	go m.watch(c)
	logger := m.logger(id)
	logger.Info().Msg("peer connection created")
	return nil
}

// watch applies the state reports of one connection in order.
func (m *Manager) watch(c *Connection) {
	defer m.wg.Done()
	logger := m.logger(c.ID)

	var escalate <-chan time.Time
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, escalate = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-escalate:
			logger.Warn().Dur("timeout", m.cfg.DisconnectTimeout).Msg("disconnected too long, forcing reconnect")
			m.spawnReconnect(c)
			return
		case st := <-c.link.States():
			c.state.Store(int32(st))
			m.pub.Publish(events.PeerState{ParticipantID: c.ID, State: st})
			logger.Info().Str("state", st.String()).Msg("peer state")

			switch st {
			case core.StateConnected:
				stopTimer()
				c.failures.Store(0)
			case core.StateDisconnected:
				if m.cfg.DisconnectTimeout > 0 && timer == nil {
					timer = time.NewTimer(m.cfg.DisconnectTimeout)
					escalate = timer.C
				}
			case core.StateFailed:
				c.failures.Add(1)
				m.spawnReconnect(c)
				return
			case core.StateClosed:
				// Close before removal so an absent entry means a released link.
				if cur, ok := m.store.Get(c.ID); ok && cur == c {
					_ = c.close()
					m.store.RemoveIf(c.ID, c)
				}
				return
			default:
				stopTimer()
			}
		}
	}
}

func (m *Manager) spawnReconnect(c *Connection) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		_ = m.reconnect(m.ctx, c.ID, c)
	}()
}

func (m *Manager) beginAttempt(ctx context.Context, id domain.ParticipantID) (context.Context, func(), error) {
	actx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	a := &attempt{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		cancel()
		return nil, nil, core.ErrClosed
	}
	if prev, ok := m.pending[id]; ok {
		prev.cancel()
	}
	m.pending[id] = a
	m.mu.Unlock()

	return actx, func() {
		stop()
		m.mu.Lock()
		if m.pending[id] == a {
			delete(m.pending, id)
		}
		m.mu.Unlock()
		cancel()
		close(a.done)
	}, nil
}

// inflight returns the completion channel of the attempt running for id, if
// any.
func (m *Manager) inflight(id domain.ParticipantID) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.pending[id]; ok {
		return a.done
	}
	return nil
}

// ClosePeerConnection cancels any in-flight attempt for id and closes its
// connection.
func (m *Manager) ClosePeerConnection(id domain.ParticipantID) error {
	m.mu.Lock()
	if a, ok := m.pending[id]; ok {
		a.cancel()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	c, ok := m.store.Remove(id)
	if !ok {
		return nil
	}
	logger := m.logger(id)
	logger.Info().Msg("closing peer connection")
	return c.close()
}

// CloseAll closes every connection and cancels every in-flight attempt. All
// connections are closed even when some fail to close.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	for id, a := range m.pending {
		a.cancel()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	var err error
	for _, c := range m.store.Drain() {
		err = multierr.Append(err, c.close())
	}
	return err
}

// Close is CloseAll plus shutting the manager down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	err := m.CloseAll()
	m.cancel()
	m.wg.Wait()
	return err
}

func (m *Manager) Connection(id domain.ParticipantID) (*Connection, bool) {
	return m.store.Get(id)
}

func (m *Manager) Participants() []domain.ParticipantID { return m.store.IDs() }

func (m *Manager) Len() int { return m.store.Len() }
