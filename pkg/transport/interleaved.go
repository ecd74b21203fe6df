package transport

import (
	"fmt"
	"io"
	"sync"
)

// Interleaved carries RTP and RTCP as "$" + channel + 2-byte big-endian
// length + payload frames multiplexed onto the RTSP connection itself —
// a plain TCP socket, or (for an HTTP-tunnelled session) the GET side's
// response stream. Writes are serialized against whatever else shares
// the connection (RTSP responses) via mu.
type Interleaved struct {
	mu          *sync.Mutex
	conn        io.Writer
	rtpChannel  byte
	rtcpChannel byte
}

// NewInterleaved wraps conn for a single track's RTP/RTCP channel pair.
// mu must be the same mutex the session uses to serialize its own RTSP
// response writes on conn, since both share the one connection.
func NewInterleaved(conn io.Writer, mu *sync.Mutex, rtpChannel, rtcpChannel int) *Interleaved {
	return &Interleaved{mu: mu, conn: conn, rtpChannel: byte(rtpChannel), rtcpChannel: byte(rtcpChannel)}
}

func (i *Interleaved) SendRTP(payload []byte) error {
	return i.send(i.rtpChannel, payload)
}

func (i *Interleaved) SendRTCP(payload []byte) error {
	return i.send(i.rtcpChannel, payload)
}

func (i *Interleaved) send(channel byte, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	frame[0] = '$'
	frame[1] = channel
	frame[2] = byte(len(payload) >> 8)
	frame[3] = byte(len(payload) & 0xFF)
	copy(frame[4:], payload)

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, err := i.conn.Write(frame); err != nil {
		return fmt.Errorf("interleaved write: %w", err)
	}
	return nil
}

func (i *Interleaved) Close() error { return nil } // the RTSP connection owns its own lifecycle

// FrameHeader is the 4-byte header preceding every interleaved frame's
// payload, with the magic byte already consumed by the caller.
type FrameHeader struct {
	Channel byte
	Length  uint16
}

// ReadFrameHeader reads the 3 bytes following the '$' magic byte that
// signals an interleaved frame, per the RTSP framing in RFC 2326 §10.12.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FrameHeader{}, fmt.Errorf("read interleaved header: %w", err)
	}
	return FrameHeader{
		Channel: buf[0],
		Length:  uint16(buf[1])<<8 | uint16(buf[2]),
	}, nil
}

// ReadFramePayload reads exactly hdr.Length bytes of frame payload.
func ReadFramePayload(r io.Reader, hdr FrameHeader) ([]byte, error) {
	data := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read interleaved payload: %w", err)
	}
	return data, nil
}
