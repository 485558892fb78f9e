package signal

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Message types of the signaling socket.
const (
	TypeHello     = "hello"
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeMove      = "move"
	TypeICEConfig = "ice_config"
	TypeChannels  = "channels"

	TypeAck   = "ack"
	TypeError = "error"

	TypeSignal = "signal"

	TypeMemberJoined = "member_joined"
	TypeMemberLeft   = "member_left"
	TypeMemberMoved  = "member_moved"

	TypePing = "ping"
	TypePong = "pong"
)

// Envelope is the single JSON shape used in both directions. Requests carry
// an id that the ack or error reply repeats.
type Envelope struct {
	Type        string               `json:"type"`
	ID          string               `json:"id,omitempty"`
	From        domain.ParticipantID `json:"from,omitempty"`
	To          domain.ParticipantID `json:"to,omitempty"`
	Channel     domain.ChannelID     `json:"channel,omitempty"`
	FromChannel domain.ChannelID     `json:"from_channel,omitempty"`
	Participant *domain.Participant  `json:"participant,omitempty"`
	Name        string               `json:"name,omitempty"`
	Members     []domain.Participant `json:"members,omitempty"`
	Channels    []domain.Channel     `json:"channels,omitempty"`
	ICEServers  []webrtc.ICEServer   `json:"ice_servers,omitempty"`
	Payload     *core.SignalMessage  `json:"payload,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func ack(id string) Envelope { return Envelope{Type: TypeAck, ID: id} }

func replyError(id, reason string) Envelope {
	return Envelope{Type: TypeError, ID: id, Error: reason}
}
