// Package rtcpctx generates the RTCP accounting packets (Sender Report,
// Receiver Report, Source Description) that accompany every RTP track of
// an RTSP session. It tracks the RTP/NTP/wall-clock mapping needed to
// synchronize multiple tracks on playback, and the sequence/jitter
// bookkeeping needed to report on what the peer actually received.
//
// One Context exists per track per direction: a published track gets a
// sender-side Context building SRs from the packets this process writes,
// a recorded (RECORD-method) track gets a receiver-side Context building
// RRs from the packets this process reads.
package rtcpctx

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01

// ntpToRTCP converts a wall-clock time into the 32.32 fixed point NTP
// timestamp format used by rtcp.SenderReport.
func ntpToRTCP(v time.Time) uint64 {
	s := uint64(v.UnixNano()) + ntpEpochOffset*1_000_000_000
	return (s/1_000_000_000)<<32 | ((s%1_000_000_000)<<32)/1_000_000_000
}

// Context accumulates per-track RTCP accounting state. All methods are
// safe for concurrent use; callers typically hold one Context per track
// and feed it from the single goroutine that reads or writes that
// track's RTP packets.
type Context struct {
	mu        sync.Mutex
	clockRate uint32
	cname     string
	timeNow   func() time.Time

	// sender-side bookkeeping, used by CreateSR.
	sendInitialized bool
	ssrc            uint32
	lastRTPTime     uint32
	lastNTPTime     time.Time
	lastSystemTime  time.Time
	packetCount     uint32
	octetCount      uint32

	// receiver-side bookkeeping, used by CreateRR.
	recvInitialized bool
	baseSeq         uint16
	maxSeq          uint16
	cycles          uint32
	recvCount       uint32
	expectedPrior   uint32
	receivedPrior   uint32
	jitter          float64
	lastTransit     uint32
	lastArrival     time.Time
	lastArrivalRTP  uint32 // arrival time of the last packet, in RTP clock units
	lastRecvSSRC    uint32

	lastSRNTP      uint64
	lastSRRecvTime time.Time
	haveLastSR     bool
}

// New allocates a Context for a track clocked at clockRate Hz, identified
// to peers by cname in the SDES packet it generates.
func New(clockRate uint32, cname string) *Context {
	return &Context{
		clockRate: clockRate,
		cname:     cname,
		timeNow:   time.Now,
	}
}

// OnRTPSent records an RTP packet this process transmitted. ntp is the
// wall-clock instant corresponding to pkt's RTP timestamp; forceSync
// should be true for packets at a synchronization point (e.g. the first
// packet of a key frame), matching the sender's pts-equals-dts instants,
// so CreateSR always has a recent, accurate RTP<->NTP mapping.
func (c *Context) OnRTPSent(pkt *rtp.Packet, ntp time.Time, forceSync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if forceSync || !c.sendInitialized {
		c.sendInitialized = true
		c.lastRTPTime = pkt.Timestamp
		c.lastNTPTime = ntp
		c.lastSystemTime = c.timeNow()
		c.ssrc = pkt.SSRC
	}
	c.packetCount++
	c.octetCount += uint32(len(pkt.Payload))
}

// CreateSR builds a Sender Report describing the packets handed to
// OnRTPSent so far, projecting the RTP/NTP mapping forward to "now". It
// returns nil until at least one packet has been observed.
func (c *Context) CreateSR() *rtcp.SenderReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendInitialized {
		return nil
	}

	elapsed := c.timeNow().Sub(c.lastSystemTime)
	ntp := c.lastNTPTime.Add(elapsed)
	rtpTime := c.lastRTPTime + uint32(elapsed.Seconds()*float64(c.clockRate))

	return &rtcp.SenderReport{
		SSRC:        c.ssrc,
		NTPTime:     ntpToRTCP(ntp),
		RTPTime:     rtpTime,
		PacketCount: c.packetCount,
		OctetCount:  c.octetCount,
	}
}

// OnRTPReceived records an RTP packet this process read from a RECORD
// publisher, updating the sequence and jitter statistics CreateRR needs.
func (c *Context) OnRTPReceived(pkt *rtp.Packet, arrival time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRecvSSRC = pkt.SSRC
	c.recvCount++

	if !c.recvInitialized {
		c.recvInitialized = true
		c.baseSeq = pkt.SequenceNumber
		c.maxSeq = pkt.SequenceNumber
		c.lastArrival = arrival
		c.lastArrivalRTP = pkt.Timestamp
		c.lastTransit = 0
		return
	}

	if seqDelta(c.maxSeq, pkt.SequenceNumber) {
		if pkt.SequenceNumber < c.maxSeq {
			c.cycles += 1 << 16
		}
		c.maxSeq = pkt.SequenceNumber
	}

	arrivalRTP := c.lastArrivalRTP + uint32(arrival.Sub(c.lastArrival).Seconds()*float64(c.clockRate))
	transit := arrivalRTP - pkt.Timestamp
	d := int64(int32(transit - c.lastTransit))
	if d < 0 {
		d = -d
	}
	c.jitter += (float64(d) - c.jitter) / 16
	c.lastTransit = transit
	c.lastArrival = arrival
	c.lastArrivalRTP = arrivalRTP
}

// seqDelta reports whether next should become the new high-water mark
// relative to cur, treating sequence numbers as a 16-bit ring: an
// increase always does, and a decrease of more than half the ring
// (0x8000) is taken as wraparound; a smaller decrease is a late packet.
func seqDelta(cur, next uint16) bool {
	if next >= cur {
		return true
	}
	return cur-next > 0x8000
}

// OnSR records the receipt of a peer's Sender Report, needed to compute
// the LastSR/DelaySinceLastSR fields of the next Receiver Report.
func (c *Context) OnSR(sr *rtcp.SenderReport, recvTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSRNTP = sr.NTPTime
	c.lastSRRecvTime = recvTime
	c.haveLastSR = true
}

// CreateRR builds a Receiver Report summarizing what has been observed
// via OnRTPReceived since the last call. It returns nil until at least
// one RTP packet has been received.
func (c *Context) CreateRR() *rtcp.ReceiverReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recvInitialized {
		return nil
	}

	extendedMax := c.cycles + uint32(c.maxSeq)
	expected := extendedMax - uint32(c.baseSeq) + 1
	lost := int64(expected) - int64(c.recvCount)
	if lost < 0 {
		lost = 0
	}

	expectedInterval := expected - c.expectedPrior
	receivedInterval := c.recvCount - c.receivedPrior
	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	c.expectedPrior = expected
	c.receivedPrior = c.recvCount

	var fractionLost uint8
	if expectedInterval != 0 && lostInterval > 0 {
		fractionLost = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	var lsr, dlsr uint32
	if c.haveLastSR {
		lsr = uint32(c.lastSRNTP >> 16)
		dlsr = uint32(c.timeNow().Sub(c.lastSRRecvTime).Seconds() * 65536)
	}

	return &rtcp.ReceiverReport{
		SSRC: c.lastRecvSSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               c.lastRecvSSRC,
			FractionLost:       fractionLost,
			TotalLost:          uint32(lost),
			LastSequenceNumber: extendedMax,
			Jitter:             uint32(c.jitter),
			LastSenderReport:   lsr,
			Delay:              dlsr,
		}},
	}
}

// CreateSDES builds the Source Description carrying this track's CNAME,
// using whichever SSRC the context has observed (sender-side first).
func (c *Context) CreateSDES() *rtcp.SourceDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	ssrc := c.ssrc
	if ssrc == 0 {
		ssrc = c.lastRecvSSRC
	}
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: ssrc,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: c.cname,
			}},
		}},
	}
}
