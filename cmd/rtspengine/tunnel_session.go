package main

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"

	"rtspengine/pkg/rtspsession"
	"rtspengine/pkg/transport"
	"rtspengine/pkg/tunnel"
)

// serveTunnelConn drives one RTSP-over-HTTP session's POST-delivered
// bytes the same way serveConn drives a plain TCP connection's bytes,
// demultiplexing interleaved frames from RTSP requests.
func serveTunnelConn(cookie string, conn *tunnel.Conn, deps *serverDeps) {
	defer conn.Close()

	connMu := &sync.Mutex{}
	factory := newTunnelTransportFactory(conn, connMu)
	session := deps.newSession(conn, factory)

	session.OnClose(func(s *rtspsession.Session) {
		slog.Info("tunnelled rtsp session closed", "sessionId", s.ID, "cookie", cookie)
	})
	defer session.Close()

	br := bufio.NewReader(conn)
	for {
		b, err := br.Peek(1)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("tunnel session read error", "cookie", cookie, "err", err)
			}
			return
		}

		if b[0] == interleavedMagic {
			br.Discard(1)
			hdr, err := transport.ReadFrameHeader(br)
			if err != nil {
				return
			}
			payload, err := transport.ReadFramePayload(br, hdr)
			if err != nil {
				return
			}
			session.OnInterleavedFrame(hdr.Channel, payload)
			continue
		}

		req, err := rtspsession.ReadRequest(br)
		if err != nil {
			return
		}

		var closeAfter bool
		session.HandleRequest(req, func(resp *rtspsession.Response) {
			connMu.Lock()
			defer connMu.Unlock()
			if _, err := resp.WriteTo(conn); err != nil {
				slog.Debug("tunnel write response failed", "cookie", cookie, "err", err)
			}
			closeAfter = resp.CloseConnection
		})
		if closeAfter {
			return
		}
	}
}
