package peer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshvoice/internal/app/quality"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// Connection is the manager's record of one link: the link itself, its
// last reported state and its quality monitor.
type Connection struct {
	ID      domain.ParticipantID
	link    core.MediaLink
	monitor *quality.Monitor

	state    atomic.Int32
	failures atomic.Int32 // consecutive failures without reaching connected

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (c *Connection) State() core.ConnState { return core.ConnState(c.state.Load()) }

func (c *Connection) Link() core.MediaLink { return c.link }

func (c *Connection) Monitor() *quality.Monitor { return c.monitor }

// close tears the connection down exactly once: the monitor stops before the
// link goes away.
func (c *Connection) close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.monitor.Stop()
		c.closeErr = c.link.Close()
		c.state.Store(int32(core.StateClosed))
	})
	return c.closeErr
}
