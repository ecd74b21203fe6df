package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// UnicastUDP owns one pair of server-bound UDP sockets (RTP, RTCP) for a
// single SETUP'd track. The client's source address is not trusted from
// SETUP's client_port alone — many clients sit behind NAT — so the
// sender holds off learning the real peer address until the first
// inbound datagram arrives on either socket (the "NAT hole punch").
type UnicastUDP struct {
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	mu         sync.RWMutex
	peerLearnt atomic.Bool
	rtpPeer    *net.UDPAddr
	rtcpPeer   *net.UDPAddr

	// fallbackPeer is used until the NAT hole punch completes, built
	// from the client_port SETUP advertised — best-effort, since a
	// NATed client's advertised port is frequently unreachable.
	fallbackPeer *net.UDPAddr
}

// NewUnicastUDP binds a pair of ephemeral UDP sockets on localIP and
// records the client-advertised address to send to until a real
// datagram is observed from the peer.
func NewUnicastUDP(localIP net.IP, clientAddr *net.UDPAddr) (*UnicastUDP, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind rtp socket: %w", err)
	}
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: 0})
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("bind rtcp socket: %w", err)
	}

	return &UnicastUDP{
		rtpConn:      rtpConn,
		rtcpConn:     rtcpConn,
		fallbackPeer: clientAddr,
	}, nil
}

// RTPPort and RTCPPort report the server-chosen ports for the SETUP
// response's server_port field.
func (u *UnicastUDP) RTPPort() int  { return u.rtpConn.LocalAddr().(*net.UDPAddr).Port }
func (u *UnicastUDP) RTCPPort() int { return u.rtcpConn.LocalAddr().(*net.UDPAddr).Port }

// OnInboundRTP and OnInboundRTCP complete the NAT hole punch: the first
// datagram's source address becomes the address every subsequent
// outbound packet targets, overriding the SETUP-advertised client_port.
func (u *UnicastUDP) OnInboundRTP(from *net.UDPAddr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rtpPeer != nil {
		return
	}
	slog.Debug("nat hole punch learned rtp peer", "addr", from)
	u.rtpPeer = from
	u.peerLearnt.Store(true)
}

func (u *UnicastUDP) OnInboundRTCP(from *net.UDPAddr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rtcpPeer == nil {
		u.rtcpPeer = from
	}
}

// ReadRTPLoop and ReadRTCPLoop should run in their own goroutines; they
// call back with each datagram's payload and learn the peer address as
// a side effect, then exit when the socket is closed.
func (u *UnicastUDP) ReadRTPLoop(onPacket func(payload []byte, from *net.UDPAddr)) {
	readLoop(u.rtpConn, func(payload []byte, from *net.UDPAddr) {
		u.OnInboundRTP(from)
		onPacket(payload, from)
	})
}

func (u *UnicastUDP) ReadRTCPLoop(onPacket func(payload []byte, from *net.UDPAddr)) {
	readLoop(u.rtcpConn, func(payload []byte, from *net.UDPAddr) {
		u.OnInboundRTCP(from)
		onPacket(payload, from)
	})
}

func readLoop(conn *net.UDPConn, onPacket func(payload []byte, from *net.UDPAddr)) {
	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		onPacket(payload, from)
	}
}

func (u *UnicastUDP) SendRTP(payload []byte) error {
	return send(u.rtpConn, u.peer(true), payload)
}

func (u *UnicastUDP) SendRTCP(payload []byte) error {
	return send(u.rtcpConn, u.peer(false), payload)
}

func (u *UnicastUDP) peer(rtp bool) *net.UDPAddr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if rtp && u.rtpPeer != nil {
		return u.rtpPeer
	}
	if !rtp && u.rtcpPeer != nil {
		return u.rtcpPeer
	}
	return u.fallbackPeer
}

func send(conn *net.UDPConn, peer *net.UDPAddr, payload []byte) error {
	if peer == nil {
		return fmt.Errorf("no known peer address yet")
	}
	_, err := conn.WriteToUDP(payload, peer)
	return err
}

func (u *UnicastUDP) Close() error {
	u.rtpConn.Close()
	u.rtcpConn.Close()
	return nil
}
