package transport

// Sender is the contract all three delivery flavors satisfy once SETUP
// completes: write an already-encoded RTP or RTCP packet out to the
// peer, and tear the flavor-specific resources down.
type Sender interface {
	SendRTP(payload []byte) error
	SendRTCP(payload []byte) error
	Close() error
}
