package main

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"rtspengine/pkg/rtspsession"
	"rtspengine/pkg/transport"
)

// interleavedMagic is the '$' byte RFC 2326 §10.12 uses to flag an
// RTP/RTCP frame multiplexed onto the RTSP connection, distinguishing it
// from the next RTSP request's start line.
const interleavedMagic = '$'

// serveConn drives one accepted RTSP TCP connection until the peer
// disconnects or TEARDOWN closes the session: it demultiplexes
// interleaved RTP/RTCP frames from RTSP requests on the same stream,
// dispatching each to the session.
func serveConn(conn net.Conn, deps *serverDeps) {
	defer conn.Close()

	connMu := &sync.Mutex{}
	factory := newNetTransportFactory(conn, connMu)
	session := deps.newSession(conn, factory)
	factory.bind(session)

	session.OnClose(func(s *rtspsession.Session) {
		slog.Info("rtsp session closed", "sessionId", s.ID, "remote", conn.RemoteAddr())
	})
	defer session.Close()

	br := bufio.NewReader(conn)
	for {
		b, err := br.Peek(1)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "remote", conn.RemoteAddr(), "err", err)
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
				slog.Debug("write response failed", "remote", conn.RemoteAddr(), "err", err)
			}
			closeAfter = resp.CloseConnection
		})
		if closeAfter {
			return
		}
	}
}

// listenAndServe accepts connections on addr until the listener is
// closed (by ctx cancellation closing it from another goroutine).
func listenAndServe(addr string, deps *serverDeps) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, deps)
		}
	}()

	return ln, nil
}
