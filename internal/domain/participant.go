// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 36
	MaxNameLen          = 36
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
)

type ParticipantID string

// Participant is one member of a shared session.
// Channel is nil while the participant is not in any channel.
type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	Channel  *ChannelID    `json:"channel,omitempty"`
	Speaking bool          `json:"speaking"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(name string) (*Participant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Participant{ID: ParticipantID(uuid.NewString()), Name: name}, nil
}

func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

func (p *Participant) SetName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	p.Name = name
	return nil
}

// InChannel reports whether the participant currently belongs to ch.
func (p *Participant) InChannel(ch ChannelID) bool {
	return p.Channel != nil && *p.Channel == ch
}
