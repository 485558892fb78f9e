package core

import (
	"context"

	"github.com/dkeye/meshvoice/internal/domain"
)

// MembershipService is the remote roster authority.
// Failures that the service reports itself come back as *RemoteRejectionError.
type MembershipService interface {
	// Join registers pid in ch and returns the channel's members, pid included.
	Join(ctx context.Context, ch domain.ChannelID, pid domain.ParticipantID) ([]domain.Participant, error)
	Leave(ctx context.Context, ch domain.ChannelID, pid domain.ParticipantID) error
	Move(ctx context.Context, pid domain.ParticipantID, target domain.ChannelID) error
	Channels(ctx context.Context) ([]domain.Channel, error)
}

type RosterEventKind string

const (
	MemberJoined RosterEventKind = "member_joined"
	MemberLeft   RosterEventKind = "member_left"
	MemberMoved  RosterEventKind = "member_moved"
)

// RosterEvent is a membership change pushed by the service.
// From is set for moves and leaves, To for moves and joins.
type RosterEvent struct {
	Kind        RosterEventKind
	Participant domain.Participant
	From        domain.ChannelID
	To          domain.ChannelID
}

type RosterFeed interface {
	RosterEvents() <-chan RosterEvent
}
