package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
)

var errBoom = errors.New("boom")

type fakeLink struct {
	id     domain.ParticipantID
	states chan core.ConnState

	mu      sync.Mutex
	closed  bool
	signals []core.SignalMessage
}

func newFakeLink(id domain.ParticipantID) *fakeLink {
	return &fakeLink{id: id, states: make(chan core.ConnState, 8)}
}

func (l *fakeLink) States() <-chan core.ConnState { return l.states }

func (l *fakeLink) HandleSignal(msg core.SignalMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, msg)
	return nil
}

func (l *fakeLink) InboundAudioStats() ([]core.QualitySample, error) { return nil, nil }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) report(s core.ConnState) { l.states <- s }

// fakeFactory fails the first fails[id] constructions for id (forever when
// negative) and can hold constructions until released.
type fakeFactory struct {
	mu      sync.Mutex
	fails   map[domain.ParticipantID]int
	calls   map[domain.ParticipantID]int
	links   map[domain.ParticipantID][]*fakeLink
	hold    chan struct{}
	started chan domain.ParticipantID
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		fails:   make(map[domain.ParticipantID]int),
		calls:   make(map[domain.ParticipantID]int),
		links:   make(map[domain.ParticipantID][]*fakeLink),
		started: make(chan domain.ParticipantID, 64),
	}
}

func (f *fakeFactory) NewLink(ctx context.Context, id domain.ParticipantID) (core.MediaLink, error) {
	f.mu.Lock()
	f.calls[id]++
	hold := f.hold
	fail := f.fails[id]
	if fail > 0 {
		f.fails[id]--
	}
	f.mu.Unlock()
	f.started <- id

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != 0 {
		return nil, errBoom
	}
	l := newFakeLink(id)
	f.mu.Lock()
	f.links[id] = append(f.links[id], l)
	f.mu.Unlock()
	return l, nil
}

func (f *fakeFactory) Calls(id domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFactory) Link(id domain.ParticipantID, i int) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[id][i]
}

func (f *fakeFactory) Links(id domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links[id])
}

func testConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Millisecond, QualityInterval: time.Hour}
}

func waitFor(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return nil
		}
	}
}

func domainID(s string) domain.ParticipantID { return domain.ParticipantID(s) }
