// Package media holds the ring buffer that sits between a publisher
// session and the player sessions reading from it. Packets are opaque
// here — codec-level demuxing/muxing is a named external collaborator
// (spec §1) and never happens in this package.
package media

// TrackType distinguishes the two track kinds the registry and the RTSP
// session care about; anything else is carried as TrackOther.
type TrackType uint8

const (
	TrackVideo TrackType = iota
	TrackAudio
	TrackOther
)

// Packet is one pre-packetized unit of media as it travels through a
// Stream's ring buffer: a single RTP payload plus just enough metadata
// for a reader to re-packetize it for its own transport.
type Packet struct {
	Track      int       // index into the SETUP track list
	Type       TrackType
	SequenceNo uint16
	Timestamp  uint32 // RTP timestamp, track clock rate
	Marker     bool
	KeyFrame   bool // caller-supplied; never derived by parsing the payload
	Payload    []byte
}

// Clone returns a deep copy of p, safe to retain past the caller's buffer
// reuse window.
func (p Packet) Clone() Packet {
	c := p
	if len(p.Payload) > 0 {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	return c
}
