package app

import (
	"sync"
	"testing"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelManagerPresetAndList(t *testing.T) {
	m := NewChannelManager(domain.Channel{ID: "b", Name: "Beta"}, domain.Channel{ID: "a"})

	assert.Equal(t, []core.ChannelInfo{
		{ID: "a", Name: "a"},
		{ID: "b", Name: "Beta"},
	}, m.List())

	ch, ok := m.Get("b")
	require.True(t, ok)
	ch.AddMember(core.NewMemberSession(&domain.Participant{ID: "p"}, nopConn{}))
	assert.Equal(t, 1, m.List()[1].MemberCount)

	m.Remove("b")
	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestChannelManagerCreateReturnsExisting(t *testing.T) {
	m := NewChannelManager()

	var wg sync.WaitGroup
	got := make([]core.ChannelService, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.Create("a", "Alpha")
		}(i)
	}
	wg.Wait()

	for _, ch := range got[1:] {
		assert.Same(t, got[0], ch)
	}
	assert.Len(t, m.List(), 1)
}
