package main

import (
	"net"
	"sync"

	"github.com/pion/rtp"

	"rtspengine/pkg/media"
	"rtspengine/pkg/rtspsession"
	"rtspengine/pkg/transport"
)

// netTransportFactory is the real-socket rtspsession.TransportFactory for
// one connection: interleaved sends share the connection's write mutex,
// UDP unicast/multicast each get their own read-loop goroutine feeding
// inbound RTP back into the owning session.
type netTransportFactory struct {
	conn    net.Conn
	connMu  *sync.Mutex
	localIP net.IP

	mu      sync.Mutex
	session *rtspsession.Session
	next    int
}

func newNetTransportFactory(conn net.Conn, connMu *sync.Mutex) *netTransportFactory {
	localIP := net.IPv4zero
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		localIP = tcpAddr.IP
	}
	return &netTransportFactory{conn: conn, connMu: connMu, localIP: localIP}
}

func (f *netTransportFactory) LocalIP() net.IP { return f.localIP }

func (f *netTransportFactory) bind(s *rtspsession.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func (f *netTransportFactory) allocTrack() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.next
	f.next++
	return idx
}

func (f *netTransportFactory) NewInterleaved(rtpChannel, rtcpChannel int) transport.Sender {
	return transport.NewInterleaved(f.conn, f.connMu, rtpChannel, rtcpChannel)
}

func (f *netTransportFactory) NewUnicastUDP(clientIP net.IP, clientRTPPort, clientRTCPPort int) (transport.Sender, int, int, error) {
	clientAddr := &net.UDPAddr{IP: clientIP, Port: clientRTPPort}
	u, err := transport.NewUnicastUDP(f.localIP, clientAddr)
	if err != nil {
		return nil, 0, 0, err
	}

	track := f.allocTrack()
	go u.ReadRTPLoop(func(payload []byte, from *net.UDPAddr) {
		f.dispatchRTP(track, payload)
	})
	go u.ReadRTCPLoop(func(payload []byte, from *net.UDPAddr) {})

	return u, u.RTPPort(), u.RTCPPort(), nil
}

func (f *netTransportFactory) NewMulticast(tuple string, group net.IP, rtpPort, rtcpPort, ttl int) (transport.Sender, int, int, error) {
	m, err := transport.JoinMulticast(f.localIP, tuple, group, rtpPort, rtcpPort, ttl)
	if err != nil {
		return nil, 0, 0, err
	}
	return m, m.RTPPort(), m.RTCPPort(), nil
}

// dispatchRTP decodes an inbound RTP datagram from a UDP publisher and
// hands it to the session the way OnInterleavedFrame does for TCP.
func (f *netTransportFactory) dispatchRTP(track int, payload []byte) {
	f.mu.Lock()
	s := f.session
	f.mu.Unlock()
	if s == nil {
		return
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		return
	}
	s.OnInboundRTP(track, media.Packet{
		Track:      track,
		SequenceNo: pkt.SequenceNumber,
		Timestamp:  pkt.Timestamp,
		Marker:     pkt.Marker,
		Payload:    pkt.Payload,
	})
}
