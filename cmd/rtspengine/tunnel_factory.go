package main

import (
	"fmt"
	"io"
	"net"
	"sync"

	"rtspengine/pkg/transport"
)

// tunnelTransportFactory is the TransportFactory for an RTSP-over-HTTP
// session: only TCP-interleaved delivery makes sense once RTSP itself is
// already tunnelled inside HTTP, so UDP unicast/multicast are rejected.
type tunnelTransportFactory struct {
	conn   io.Writer
	connMu *sync.Mutex
}

func newTunnelTransportFactory(conn io.Writer, connMu *sync.Mutex) *tunnelTransportFactory {
	return &tunnelTransportFactory{conn: conn, connMu: connMu}
}

func (f *tunnelTransportFactory) NewInterleaved(rtpChannel, rtcpChannel int) transport.Sender {
	return transport.NewInterleaved(f.conn, f.connMu, rtpChannel, rtcpChannel)
}

// LocalIP is unused: multicast (the only flavor that reads it) is
// rejected outright by NewMulticast below.
func (f *tunnelTransportFactory) LocalIP() net.IP { return net.IPv4zero }

func (f *tunnelTransportFactory) NewUnicastUDP(clientIP net.IP, clientRTPPort, clientRTCPPort int) (transport.Sender, int, int, error) {
	return nil, 0, 0, fmt.Errorf("udp transport is not available over an http-tunnelled rtsp session")
}

func (f *tunnelTransportFactory) NewMulticast(tuple string, group net.IP, rtpPort, rtcpPort, ttl int) (transport.Sender, int, int, error) {
	return nil, 0, 0, fmt.Errorf("multicast transport is not available over an http-tunnelled rtsp session")
}
