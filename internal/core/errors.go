package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/meshvoice/internal/domain"
)

var (
	ErrSessionActive     = errors.New("session already active")
	ErrNoSession         = errors.New("no active session")
	ErrClosed            = errors.New("closed")
	ErrBackpressure      = errors.New("backpressure")
	ErrSourceUnavailable = errors.New("audio source unavailable")
)

// MediaAcquisitionError means the local microphone could not be captured.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// ConnectionEstablishmentError is returned once every attempt to build a
// link to one participant has failed.
type ConnectionEstablishmentError struct {
	ParticipantID domain.ParticipantID
	Attempts      int
	Err           error
}

func (e *ConnectionEstablishmentError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempts: %v", e.ParticipantID, e.Attempts, e.Err)
}

func (e *ConnectionEstablishmentError) Unwrap() error { return e.Err }

type NotMemberError struct {
	ParticipantID domain.ParticipantID
}

func (e *NotMemberError) Error() string {
	return fmt.Sprintf("participant %s is not a member of any channel", e.ParticipantID)
}

type UnknownChannelError struct {
	ChannelID domain.ChannelID
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %s", e.ChannelID)
}

// RemoteRejectionError is a structured failure reported by the membership service.
type RemoteRejectionError struct {
	Op     string
	Reason string
}

func (e *RemoteRejectionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}
