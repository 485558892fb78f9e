package app

import "github.com/dkeye/meshvoice/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose signaling queue is full.
type Policy interface {
	OnBackPressure(ch core.ChannelService, member core.MemberSession) BackpressureAction
}

// SimplePolicy drops the frame. Losing one negotiation message makes that
// link fail, and the peers rebuild it.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return DropFrame
}

// StrictPolicy disconnects members that cannot keep up.
type StrictPolicy struct{}

func (StrictPolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return KickMember
}
