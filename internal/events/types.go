// Package events carries one-way control events between session components
// and out to UI or logging subscribers.
package events

import (
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type Kind string

const (
	KindSpeakingState      Kind = "speaking_state"
	KindQualityUpdate      Kind = "quality_update"
	KindPeerState          Kind = "peer_state"
	KindReconnected        Kind = "reconnected"
	KindReconnectionFailed Kind = "reconnection_failed"
	KindConnectionFailed   Kind = "connection_failed"
	KindChannelJoined      Kind = "channel_joined"
	KindChannelLeft        Kind = "channel_left"
)

type Event interface {
	Kind() Kind
}

// SpeakingState is published on every detector transition.
// Origin is empty for locally produced events and names the relaying
// instance for events that arrived from elsewhere.
type SpeakingState struct {
	ChannelID     domain.ChannelID
	ParticipantID domain.ParticipantID
	IsSpeaking    bool
	Origin        string
	At            time.Time
}

type QualityUpdate struct {
	ParticipantID domain.ParticipantID
	Quality       float64
	Stats         core.QualitySample
}

type PeerState struct {
	ParticipantID domain.ParticipantID
	State         core.ConnState
}

type Reconnected struct {
	ParticipantID domain.ParticipantID
}

type ReconnectionFailed struct {
	ParticipantID domain.ParticipantID
	Err           error
}

// ConnectionFailed is the per-peer warning raised when a link could not be
// established at all; the rest of the mesh is unaffected.
type ConnectionFailed struct {
	ParticipantID domain.ParticipantID
	Err           error
}

// ChannelJoined is published once the membership service accepted a join.
type ChannelJoined struct {
	ChannelID domain.ChannelID
}

// ChannelLeft is published when the session has released a channel, whether
// by leave, switch or close.
type ChannelLeft struct {
	ChannelID domain.ChannelID
}

func (SpeakingState) Kind() Kind      { return KindSpeakingState }
func (QualityUpdate) Kind() Kind      { return KindQualityUpdate }
func (PeerState) Kind() Kind          { return KindPeerState }
func (Reconnected) Kind() Kind        { return KindReconnected }
func (ReconnectionFailed) Kind() Kind { return KindReconnectionFailed }
func (ConnectionFailed) Kind() Kind   { return KindConnectionFailed }
func (ChannelJoined) Kind() Kind      { return KindChannelJoined }
func (ChannelLeft) Kind() Kind        { return KindChannelLeft }
