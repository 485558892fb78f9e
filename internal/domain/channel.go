package domain

type ChannelID string

type Channel struct {
	ID   ChannelID `json:"id"`
	Name string    `json:"name"`
}

// MemberStatus holds the per-member flags a channel's status is derived from.
type MemberStatus struct {
	ParticipantID ParticipantID `json:"participant"`
	Active        bool          `json:"active"`
	Speaking      bool          `json:"speaking"`
}

// ChannelStatus is a projection of member flags; it is never stored on its own.
type ChannelStatus struct {
	Channel  ChannelID      `json:"channel"`
	Active   bool           `json:"active"`
	Speaking bool           `json:"speaking"`
	Members  []MemberStatus `json:"members"`
}

// DeriveStatus computes the channel status from its members' current flags.
func DeriveStatus(ch ChannelID, members []MemberStatus) ChannelStatus {
	st := ChannelStatus{Channel: ch, Members: members}
	for _, m := range members {
		st.Active = st.Active || m.Active
		st.Speaking = st.Speaking || m.Speaking
	}
	return st
}
