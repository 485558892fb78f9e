package core

import (
	"context"

	"github.com/dkeye/meshvoice/internal/domain"
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	// SignalReady asks the remote side to (re)send an offer.
	SignalReady SignalKind = "ready"
)

// SignalMessage is an opaque negotiation payload exchanged between two peers.
type SignalMessage struct {
	Kind          SignalKind `json:"kind"`
	SDP           string     `json:"sdp,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        *string    `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16    `json:"sdpMLineIndex,omitempty"`
}

type InboundSignal struct {
	From    domain.ParticipantID
	Message SignalMessage
}

// SignalTransport carries negotiation payloads addressed by participant id.
// Order is preserved per peer pair only.
type SignalTransport interface {
	SendSignal(ctx context.Context, to domain.ParticipantID, msg SignalMessage) error
	Signals() <-chan InboundSignal
}
