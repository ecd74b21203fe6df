package transport

import (
	"fmt"
	"net"
	"sync"
)

// multicastKey identifies one shared multicast group socket pair: every
// SETUP for the same (local interface, media tuple) rides the same
// sockets, regardless of how many players have joined the group.
type multicastKey struct {
	localIP string
	tuple   string // caller-supplied, typically schema/vhost/app/stream
}

var (
	multicastRegistryMu sync.Mutex
	multicastRegistry    = make(map[multicastKey]*sharedMulticast)
)

// sharedMulticast is the reference-counted multicast socket pair for one
// group. Only the publisher side writes to it; every player SETUP for
// the same tuple just bumps the refcount and rides the existing sockets.
type sharedMulticast struct {
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	group    *net.UDPAddr
	ttl      int
	refCount int
}

// Multicast is a per-player handle onto a sharedMulticast group.
type Multicast struct {
	key    multicastKey
	shared *sharedMulticast
}

// JoinMulticast acquires (creating if necessary) the shared group socket
// pair for key, binding rtpPort/rtcpPort on the group address the first
// time and reusing them for every subsequent joiner.
func JoinMulticast(localIP net.IP, tuple string, group net.IP, rtpPort, rtcpPort, ttl int) (*Multicast, error) {
	key := multicastKey{localIP: localIP.String(), tuple: tuple}

	multicastRegistryMu.Lock()
	defer multicastRegistryMu.Unlock()

	shared, ok := multicastRegistry[key]
	if !ok {
		rtpAddr := &net.UDPAddr{IP: group, Port: rtpPort}
		rtcpAddr := &net.UDPAddr{IP: group, Port: rtcpPort}

		rtpConn, err := net.ListenUDP("udp", rtpAddr)
		if err != nil {
			return nil, fmt.Errorf("bind multicast rtp socket: %w", err)
		}
		rtcpConn, err := net.ListenUDP("udp", rtcpAddr)
		if err != nil {
			rtpConn.Close()
			return nil, fmt.Errorf("bind multicast rtcp socket: %w", err)
		}

		shared = &sharedMulticast{
			rtpConn:  rtpConn,
			rtcpConn: rtcpConn,
			group:    rtpAddr,
			ttl:      ttl,
		}
		multicastRegistry[key] = shared
	}

	shared.refCount++
	return &Multicast{key: key, shared: shared}, nil
}

func (m *Multicast) RTPPort() int  { return m.shared.rtpConn.LocalAddr().(*net.UDPAddr).Port }
func (m *Multicast) RTCPPort() int { return m.shared.rtcpConn.LocalAddr().(*net.UDPAddr).Port }
func (m *Multicast) GroupIP() net.IP { return m.shared.group.IP }
func (m *Multicast) TTL() int        { return m.shared.ttl }

func (m *Multicast) SendRTP(payload []byte) error {
	_, err := m.shared.rtpConn.WriteToUDP(payload, m.shared.group)
	return err
}

func (m *Multicast) SendRTCP(payload []byte) error {
	rtcpAddr := &net.UDPAddr{IP: m.shared.group.IP, Port: m.shared.rtcpConn.LocalAddr().(*net.UDPAddr).Port}
	_, err := m.shared.rtcpConn.WriteToUDP(payload, rtcpAddr)
	return err
}

// Close releases this handle's reference; the underlying sockets close
// only once every joiner has released its handle.
func (m *Multicast) Close() error {
	multicastRegistryMu.Lock()
	defer multicastRegistryMu.Unlock()

	m.shared.refCount--
	if m.shared.refCount > 0 {
		return nil
	}
	delete(multicastRegistry, m.key)
	m.shared.rtpConn.Close()
	m.shared.rtcpConn.Close()
	return nil
}
