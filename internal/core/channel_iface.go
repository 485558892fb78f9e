package core

import "github.com/dkeye/meshvoice/internal/domain"

type SessionID string

// MemberSession binds a participant and its signaling endpoint.
// This is what a channel stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// ChannelService is the server-side roster of one channel.
// It owns the membership set but never touches transport resources.
type ChannelService interface {
	Channel() *domain.Channel
	MemberCount() int
	MembersSnapshot() []domain.Participant
	Member(pid domain.ParticipantID) (MemberSession, bool)

	AddMember(ms MemberSession)
	RemoveMember(pid domain.ParticipantID)
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
}

type ChannelInfo struct {
	ID          domain.ChannelID `json:"id"`
	Name        string           `json:"name"`
	MemberCount int              `json:"member_count"`
}

type ChannelManager interface {
	Get(id domain.ChannelID) (ChannelService, bool)
	Create(id domain.ChannelID, name string) ChannelService
	List() []ChannelInfo
}
