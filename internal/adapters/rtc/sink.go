package rtc

import (
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/rtp"
)

// RemoteAudioSink receives the RTP packets of every remote audio track.
type RemoteAudioSink interface {
	WriteRTP(from domain.ParticipantID, pkt *rtp.Packet)
}

// ReceiveStats is what a PacketCounter saw from one participant.
type ReceiveStats struct {
	Packets uint64
	Bytes   uint64
	// Gaps counts sequence number jumps, i.e. packets never received.
	Gaps    uint64
	LastSeq uint16
}

// PacketCounter is a RemoteAudioSink that only keeps receive counters.
// Decoding and playback are left to the UI side.
type PacketCounter struct {
	mu    sync.Mutex
	stats map[domain.ParticipantID]*ReceiveStats
}

func NewPacketCounter() *PacketCounter {
	return &PacketCounter{stats: make(map[domain.ParticipantID]*ReceiveStats)}
}

func (c *PacketCounter) WriteRTP(from domain.ParticipantID, pkt *rtp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stats[from]
	if !ok {
		st = &ReceiveStats{LastSeq: pkt.SequenceNumber - 1}
		c.stats[from] = st
	}
	if gap := pkt.SequenceNumber - st.LastSeq; gap > 1 && gap < 1<<15 {
		st.Gaps += uint64(gap - 1)
	}
	st.LastSeq = pkt.SequenceNumber
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
}

func (c *PacketCounter) Snapshot() map[domain.ParticipantID]ReceiveStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.ParticipantID]ReceiveStats, len(c.stats))
	for id, st := range c.stats {
		out[id] = *st
	}
	return out
}
