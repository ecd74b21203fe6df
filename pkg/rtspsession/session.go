package rtspsession

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"rtspengine/pkg/media"
	"rtspengine/pkg/mediatuple"
	"rtspengine/pkg/registry"
	"rtspengine/pkg/rtcpctx"
	"rtspengine/pkg/rtspauth"
	"rtspengine/pkg/sdpdoc"
	"rtspengine/pkg/transport"
	"rtspengine/pkg/utils"
)

// DefaultSessionTimeout is advertised in every SETUP response's Session
// header and used to size the keep-alive liveness window.
const DefaultSessionTimeout = 60 * time.Second

// livingMultiplier widens the keep-alive window while a session is
// Playing or Recording: RTP/RTCP traffic itself proves liveness during
// those states, so a player that never sends GET_PARAMETER should not
// be torn down just because it relies on the media flow instead. A
// session in any other state has no such substitute and is held to the
// plain, un-multiplied timeout.
const livingMultiplier = 4

// TransportFactory builds the concrete Sender for a negotiated SETUP
// transport. Implementations own the actual sockets/NAT state; this
// package only drives the protocol.
type TransportFactory interface {
	NewInterleaved(rtpChannel, rtcpChannel int) transport.Sender
	NewUnicastUDP(clientIP net.IP, clientRTPPort, clientRTCPPort int) (sender transport.Sender, serverRTPPort, serverRTCPPort int, err error)
	NewMulticast(tuple string, group net.IP, rtpPort, rtcpPort, ttl int) (sender transport.Sender, serverRTPPort, serverRTCPPort int, err error)
	// LocalIP is the server address advertised in a multicast SETUP
	// response's Transport: source= field.
	LocalIP() net.IP
}

// DescribeProvider resolves the track list a DESCRIBE/SDP body should
// advertise for a given stream, and ANNOUNCE's equivalent is parsed
// directly from the request body via sdpdoc.ParseAnnounce. Codec
// negotiation itself lives with whatever produces the media.
type DescribeProvider func(schema string, tuple mediatuple.Tuple) ([]sdpdoc.TrackDescriptor, error)

// trackState is the per-SETUP-track bookkeeping a session accumulates
// across SETUP/PLAY/RECORD/TEARDOWN.
type trackState struct {
	index   int
	control string
	inited  bool // set once SETUP has bound a transport; a second SETUP for the same control fails the connection
	spec    transport.Spec
	sender  transport.Sender
	rtcp    *rtcpctx.Context
	stopRTCP func()
	buffer  *media.Buffer // PLAY only, needed to Detach reader on pause/teardown
	reader  *media.Reader // PLAY only
}

// Session drives one RTSP connection's protocol state machine. A
// Session is not safe for concurrent HandleRequest calls — callers
// serialize requests per connection, matching the RTSP model of one
// request in flight at a time per session.
type Session struct {
	ID string

	connMu *sync.Mutex // allocated per session; senders come from the TransportFactory and do not use it
	conn   io.ReadWriter

	registry  *registry.Registry
	factory   TransportFactory
	describe  DescribeProvider

	auth      *rtspauth.Session // nil disables authentication entirely
	authedUser string

	schema string
	state  State
	tuple  mediatuple.Tuple
	tracks []*trackState

	transportMode   *transport.Mode // set on the first successful SETUP; §4.3 requires it stay constant afterward
	forcedTransport *transport.Mode // deployment-configured transport force-policy, nil when unconfigured
	targetPlayTrack *int            // recorded when exactly one track was SETUP, per §4.6 PLAY specifics

	source       *registry.Source
	ownership    registry.Handle
	cancelFind   func()
	continuePush time.Duration // publisher reconnect grace period; 0 disables it

	timeout      time.Duration
	lastActivity time.Time

	onClose func(*Session)
}

// NewSession allocates a session bound to conn. factory and describe are
// required collaborators; reg is the process-wide registry the session
// publishes to or plays from; auth may be nil to disable authentication.
func NewSession(conn io.ReadWriter, reg *registry.Registry, factory TransportFactory, describe DescribeProvider, auth *rtspauth.Session) *Session {
	return &Session{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		connMu:       &sync.Mutex{},
		conn:         conn,
		registry:     reg,
		factory:      factory,
		describe:     describe,
		auth:         auth,
		schema:       "rtsp",
		state:        StateInit,
		timeout:      DefaultSessionTimeout,
		lastActivity: time.Now(),
	}
}

// OnClose registers a callback fired exactly once, from whatever
// goroutine calls Close.
func (s *Session) OnClose(fn func(*Session)) { s.onClose = fn }

// ForceTransport pins every SETUP on this session to mode, rejecting a
// client request for any other flavor with 461 — the server-side
// transport force-policy spec.md §4.3/§8 Property #4 describes.
func (s *Session) ForceTransport(mode transport.Mode) { s.forcedTransport = &mode }

// SetContinuePush configures the publisher reconnect grace period: on a
// RECORDing session's Close other than by a client TEARDOWN, the source
// is kept alive (unregistered
// only after grace elapses with nobody re-acquiring ownership) instead
// of torn down immediately.
func (s *Session) SetContinuePush(grace time.Duration) { s.continuePush = grace }

// IdleDuration reports how long it has been since the last request this
// session processed, for a liveness-checking goroutine outside this
// package to compare against LivenessWindow.
func (s *Session) IdleDuration() time.Duration { return time.Since(s.lastActivity) }

// LivenessWindow returns how long this session may stay idle before
// being considered dead, widened while media is actually flowing.
func (s *Session) LivenessWindow() time.Duration {
	if s.state == StatePlaying || s.state == StateRecording {
		return s.timeout * livingMultiplier
	}
	return s.timeout
}

// HandleRequest dispatches req and invokes respond exactly once. Most
// methods respond synchronously before returning; PLAY against a stream
// with no publisher yet may respond later, once FindAsync resolves.
func (s *Session) HandleRequest(req *Request, respond func(*Response)) {
	s.lastActivity = time.Now()

	if err := s.checkSessionID(req); err != nil {
		respond(s.errorResponse(req.CSeq, StatusSessionNotFound))
		return
	}

	if challenge := s.authenticate(req); challenge != nil {
		resp := s.errorResponse(req.CSeq, StatusUnauthorized)
		resp.SetHeader(HeaderWWWAuth, challenge.String())
		respond(resp)
		return
	}

	switch req.Method {
	case MethodOptions:
		respond(s.handleOptions(req))
	case MethodDescribe:
		respond(s.handleDescribe(req))
	case MethodAnnounce:
		respond(s.handleAnnounce(req))
	case MethodSetup:
		respond(s.handleSetup(req))
	case MethodPlay:
		s.handlePlay(req, respond)
	case MethodPause:
		respond(s.handlePause(req))
	case MethodRecord:
		respond(s.handleRecord(req))
	case MethodTeardown:
		respond(s.handleTeardown(req))
	case MethodGetParam, MethodSetParam:
		// GET_PARAMETER with no body is the universal RTSP keep-alive;
		// this server answers both the same way, matching the common
		// "parameters are opaque, only the round-trip matters" stance.
		respond(s.handleKeepAlive(req))
	default:
		respond(s.closingErrorResponse(req.CSeq, StatusMethodNotAllowed))
	}
}

func (s *Session) checkSessionID(req *Request) error {
	switch req.Method {
	case MethodOptions, MethodDescribe, MethodSetup, MethodAnnounce:
		return nil
	}
	header := req.GetHeader(HeaderSession)
	if header == "" {
		return fmt.Errorf("missing session header")
	}
	id, _, _ := strings.Cut(header, ";")
	if id != s.ID {
		return fmt.Errorf("session id mismatch")
	}
	return nil
}

// authenticate returns a non-nil challenge if req must be rejected with
// 401; a DESCRIBE/ANNOUNCE/SETUP/PLAY/RECORD without valid credentials is
// challenged, everything else (once authenticated once) passes through.
func (s *Session) authenticate(req *Request) *rtspauth.Challenge {
	if s.auth == nil {
		return nil
	}
	switch req.Method {
	case MethodDescribe, MethodAnnounce, MethodSetup, MethodRecord, MethodPlay:
	default:
		return nil
	}
	if s.authedUser != "" {
		return nil
	}

	header := req.GetHeader(HeaderAuthorization)
	if header == "" {
		challenge, err := s.auth.Challenge()
		if err != nil {
			slog.Error("failed to build auth challenge", "sessionId", s.ID, "err", err)
		}
		return &challenge
	}
	if err := s.auth.Verify(header); err != nil {
		slog.Info("rtsp auth failed", "sessionId", s.ID, "err", err)
		challenge, _ := s.auth.Challenge()
		return &challenge
	}

	creds, _ := rtspauth.ParseAuthorization(header)
	s.authedUser = creds.Username
	if s.authedUser == "" {
		s.authedUser = "basic-user"
	}
	if !s.auth.AuthorizePlay(s.authedUser, req.URI) {
		challenge, _ := s.auth.Challenge()
		return &challenge
	}
	return nil
}

func (s *Session) handleOptions(req *Request) *Response {
	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderPublic, "OPTIONS, DESCRIBE, ANNOUNCE, SETUP, PLAY, PAUSE, RECORD, TEARDOWN, GET_PARAMETER, SET_PARAMETER")
	return resp
}

func (s *Session) handleDescribe(req *Request) *Response {
	info, err := mediatuple.Parse(req.URI)
	if err != nil {
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}
	s.tuple = info.Tuple

	tracks, err := s.describe(s.schema, s.tuple)
	if err != nil || len(tracks) == 0 {
		return s.errorResponse(req.CSeq, StatusNotFound)
	}

	body, err := sdpdoc.BuildDescription(s.tuple.Stream, tracks)
	if err != nil {
		return s.errorResponse(req.CSeq, StatusInternalServerError)
	}

	s.state = StateDescribed

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderContentType, "application/sdp")
	resp.SetHeader(HeaderContentBase, strings.TrimRight(req.URI, "/")+"/")
	resp.SetHeader(HeaderXAcceptRetransmit, "our-retransmit")
	resp.SetHeader(HeaderXAcceptDynamicRate, "1")
	resp.Body = body
	return resp
}

// handleAnnounce takes or creates the publisher Source for this tuple and
// immediately attempts to acquire its ownership token. Registering the
// Source here (rather than waiting for RECORD) is what makes
// Registry.Regist the race-free gate for spec.md §8 Testable Property #1:
// of two concurrent ANNOUNCEs for the same tuple, only one can win the
// Regist call (or the AcquireOwnership call against an already-registered
// Source), and the other gets 406 right here.
func (s *Session) handleAnnounce(req *Request) *Response {
	info, err := mediatuple.Parse(req.URI)
	if err != nil {
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}
	s.tuple = info.Tuple

	tracks, err := sdpdoc.ParseAnnounce(req.Body)
	if err != nil || len(tracks) == 0 {
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}

	src := s.registry.Find(s.schema, s.tuple, false)
	if src == nil {
		candidate := registry.NewSource(s.schema, s.tuple, len(tracks))
		candidate.SetDescriptors(tracks)
		if err := s.registry.Regist(candidate); err != nil {
			// Lost the race: another ANNOUNCE registered first between
			// our lookup and our Regist call. Fall through to whatever
			// it registered instead of erroring out spuriously.
			src = s.registry.Find(s.schema, s.tuple, false)
			if src == nil {
				return s.errorResponse(req.CSeq, StatusInternalServerError)
			}
		} else {
			src = candidate
		}
	}

	handle, ok := src.AcquireOwnership()
	if !ok {
		return s.errorResponse(req.CSeq, StatusNotAcceptable)
	}

	s.source = src
	s.ownership = handle
	s.state = StateAnnounced

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	return resp
}

// trackIndexForControl resolves a SETUP request-URI's trailing control
// segment (e.g. ".../cam1/track1") to an existing track's index, or
// len(s.tracks) if this control has never been SETUP before.
func (s *Session) trackIndexForControl(control string) int {
	for i, t := range s.tracks {
		if t != nil && t.control == control {
			return i
		}
	}
	return len(s.tracks)
}

// handleSetup binds a transport for one track. spec.md §3/§8 Property #3
// makes SETUP non-idempotent: re-SETUP of a track already inited fails
// the connection outright, it does not just re-confirm the transport.
// §4.3/§8 Property #4 also requires transport-mode monotonicity across a
// session's SETUPs (and honors any configured force-policy), both
// enforced with 461 before any socket work happens.
func (s *Session) handleSetup(req *Request) *Response {
	if !s.state.canSetup() {
		return s.errorResponse(req.CSeq, StatusMethodNotValidInThisState)
	}

	transportHeader := req.GetHeader(HeaderTransport)
	if transportHeader == "" {
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}
	spec, err := transport.ParseHeader(transportHeader)
	if err != nil {
		if errors.Is(err, transport.ErrUnsupportedTransport) {
			return s.closingErrorResponse(req.CSeq, StatusUnsupportedTransport)
		}
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}

	if s.forcedTransport != nil && spec.Mode != *s.forcedTransport {
		return s.closingErrorResponse(req.CSeq, StatusUnsupportedTransport)
	}
	if s.transportMode != nil && spec.Mode != *s.transportMode {
		return s.closingErrorResponse(req.CSeq, StatusUnsupportedTransport)
	}

	control := trailingSegment(req.URI)
	index := s.trackIndexForControl(control)
	if index < len(s.tracks) {
		// A track may be SETUP at most once per session (spec.md §3).
		return s.closingErrorResponse(req.CSeq, StatusMethodNotValidInThisState)
	}
	track := &trackState{index: index, control: control}
	s.tracks = append(s.tracks, track)

	var sender transport.Sender
	var serverRTPPort, serverRTCPPort int

	switch spec.Mode {
	case transport.ModeTCPInterleaved:
		if spec.RTPChannel == 0 && spec.RTCPChannel == 0 {
			spec.RTPChannel, spec.RTCPChannel = index*2, index*2+1
		}
		sender = s.factory.NewInterleaved(spec.RTPChannel, spec.RTCPChannel)
	case transport.ModeUDPMulticast:
		group := net.ParseIP(spec.Destination)
		sender, serverRTPPort, serverRTCPPort, err = s.factory.NewMulticast(tupleKey(s.schema, s.tuple), group, spec.ClientRTPPort, spec.ClientRTCPPort, spec.TTL)
		if err != nil {
			return s.errorResponse(req.CSeq, StatusInternalServerError)
		}
	default:
		clientIP := remoteIP(s.conn)
		sender, serverRTPPort, serverRTCPPort, err = s.factory.NewUnicastUDP(clientIP, spec.ClientRTPPort, spec.ClientRTCPPort)
		if err != nil {
			return s.errorResponse(req.CSeq, StatusInternalServerError)
		}
	}

	track.spec = spec
	track.sender = sender
	track.rtcp = rtcpctx.New(90000, s.ID)
	track.inited = true
	mode := spec.Mode
	s.transportMode = &mode

	if s.state == StateInit {
		s.state = StateDescribed
	}

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, fmt.Sprintf("%s;timeout=%d", s.ID, int(s.timeout.Seconds())))
	resp.SetHeader(HeaderTransport, transport.BuildResponseHeader(spec, s.factory.LocalIP().String(), serverRTPPort, serverRTCPPort, 0))
	if spec.Mode == transport.ModeTCPInterleaved {
		resp.SetHeader(HeaderXTransportOptions, "late-tolerance=1.400000")
		resp.SetHeader(HeaderXDynamicRate, "1")
	}
	return resp
}

func (s *Session) handlePlay(req *Request, respond func(*Response)) {
	if s.state != StateDescribed && s.state != StatePaused {
		respond(s.errorResponse(req.CSeq, StatusMethodNotValidInThisState))
		return
	}
	if len(s.tracks) == 0 {
		respond(s.errorResponse(req.CSeq, StatusMethodNotValidInThisState))
		return
	}

	if s.source != nil {
		s.startPlayback(req, respond)
		return
	}

	cancel := s.registry.FindAsync(s.schema, s.tuple, true, s.ID, func(fn func()) { fn() }, 15*time.Second, func(src *registry.Source) {
		if src == nil {
			respond(s.errorResponse(req.CSeq, StatusNotFound))
			return
		}
		s.source = src
		s.startPlayback(req, respond)
	})
	s.cancelFind = cancel
}

// startPlayback attaches a ring-reader per SETUP track and replies with
// the RTP-Info/Range/Scale headers spec.md §4.6/§6 mandate. If exactly
// one track was SETUP it is recorded as target_play_track: RTP output is
// already filtered to it structurally, since each track pumps from its
// own dedicated ring-buffer reader rather than a shared one.
func (s *Session) startPlayback(req *Request, respond func(*Response)) {
	npt, sought := parseRangeNPT(req.GetHeader(HeaderRange))
	useGOP := !sought

	if len(s.tracks) == 1 {
		idx := s.tracks[0].index
		s.targetPlayTrack = &idx
	}

	for i, track := range s.tracks {
		buf := s.source.Buffer(i)
		if buf == nil {
			continue
		}
		track.buffer = buf
		track.reader = buf.Attach(useGOP)
		go s.pumpTrack(track)
		track.stopRTCP = track.rtcp.Run(rtcpctx.DefaultReportPeriod, func(pkts []rtcp.Packet) {
			s.dispatchRTCP(track, pkts)
		})
	}

	s.state = StatePlaying

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, s.ID)
	resp.SetHeader(HeaderRange, fmt.Sprintf("npt=%s", npt))
	if scale := req.GetHeader(HeaderScale); scale != "" {
		resp.SetHeader(HeaderScale, scale)
	}
	if rtpInfo := s.rtpInfoHeader(req.URI); rtpInfo != "" {
		resp.SetHeader(HeaderRTPInfo, rtpInfo)
	}
	respond(resp)
}

// parseRangeNPT interprets a PLAY request's Range header (spec.md §4.6:
// "Range: npt=start-"; "npt=now" means 0) and reports the npt value to
// echo plus whether this was an actual seek to a nonzero start (no Range,
// "npt=now" and "npt=0-" all replay from the live edge's GOP).
func parseRangeNPT(header string) (npt string, sought bool) {
	if header == "" {
		return "0.00", false
	}
	val := strings.TrimPrefix(header, "npt=")
	val, _, _ = strings.Cut(val, "-")
	if val == "" || val == "now" {
		return "0.00", false
	}
	if f, err := strconv.ParseFloat(val, 64); err != nil || f == 0 {
		return "0.00", false
	}
	return val, true
}

// pumpTrack forwards buffered packets to the negotiated transport until
// the reader channel closes (source torn down) or the sender errors.
func (s *Session) pumpTrack(track *trackState) {
	for pkt := range track.reader.Packets() {
		raw, err := (&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         pkt.Marker,
				PayloadType:    96,
				SequenceNumber: pkt.SequenceNo,
				Timestamp:      pkt.Timestamp,
			},
			Payload: pkt.Payload,
		}).Marshal()
		if err != nil {
			continue
		}
		if err := track.sender.SendRTP(raw); err != nil {
			slog.Debug("rtp send failed, stopping pump", "sessionId", s.ID, "track", track.index, "err", err)
			return
		}
		track.rtcp.OnRTPSent(&rtp.Packet{Header: rtp.Header{Timestamp: pkt.Timestamp, SequenceNumber: pkt.SequenceNo}}, time.Now(), pkt.KeyFrame)
	}
}

func (s *Session) dispatchRTCP(track *trackState, pkts []rtcp.Packet) {
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return
	}
	if err := track.sender.SendRTCP(raw); err != nil {
		slog.Debug("rtcp send failed", "sessionId", s.ID, "track", track.index, "err", err)
	}
}

func (s *Session) handlePause(req *Request) *Response {
	if s.state != StatePlaying {
		return s.errorResponse(req.CSeq, StatusMethodNotValidInThisState)
	}
	s.stopPlaybackPumps()
	s.state = StatePaused

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, s.ID)
	return resp
}

func (s *Session) stopPlaybackPumps() {
	for _, track := range s.tracks {
		if track.buffer != nil && track.reader != nil {
			track.buffer.Detach(track.reader)
			track.reader = nil
			track.buffer = nil
		}
		if track.stopRTCP != nil {
			track.stopRTCP()
			track.stopRTCP = nil
		}
	}
}

// handleRecord requires every ANNOUNCEd track to have been SETUP first
// (spec.md §4.6 RECORD precondition "all inited") and replies with an
// RTP-Info entry per track. Ownership was already acquired back in
// handleAnnounce (the race-free gate for concurrent publishers), so a
// conflict can no longer surface here.
func (s *Session) handleRecord(req *Request) *Response {
	if s.state != StateAnnounced {
		return s.errorResponse(req.CSeq, StatusMethodNotValidInThisState)
	}
	if s.source == nil {
		return s.errorResponse(req.CSeq, StatusInternalServerError)
	}
	if len(s.tracks) == 0 || len(s.tracks) != s.source.TrackCount() {
		return s.errorResponse(req.CSeq, StatusBadRequest)
	}
	for _, track := range s.tracks {
		if !track.inited {
			return s.errorResponse(req.CSeq, StatusBadRequest)
		}
	}

	for _, track := range s.tracks {
		track.rtcp = rtcpctx.New(90000, s.ID)
	}

	s.state = StateRecording

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, s.ID)
	if rtpInfo := s.rtpInfoHeader(req.URI); rtpInfo != "" {
		resp.SetHeader(HeaderRTPInfo, rtpInfo)
	}
	return resp
}

// OnInboundRTP is called by the transport layer (interleaved dispatcher
// or a UDP read loop) whenever a RECORDing session's peer sends an RTP
// packet for trackIndex, feeding it into the owned source's buffer.
func (s *Session) OnInboundRTP(trackIndex int, pkt media.Packet) {
	if s.state != StateRecording || s.source == nil {
		return
	}
	if trackIndex < 0 || trackIndex >= len(s.tracks) {
		return
	}
	if buf := s.source.Buffer(trackIndex); buf != nil {
		buf.Write(pkt)
	}
	if track := s.tracks[trackIndex]; track.rtcp != nil {
		track.rtcp.OnRTPReceived(&rtp.Packet{Header: rtp.Header{SequenceNumber: pkt.SequenceNo, Timestamp: pkt.Timestamp}}, time.Now())
	}
}

// OnInterleavedFrame is called by the connection's frame dispatcher for
// every "$"-prefixed block read off the shared TCP connection. channel
// is matched against each SETUP'd track's negotiated RTP/RTCP channel
// pair; an RTP frame is handed to OnInboundRTP, an RTCP frame updates
// that track's receiver-side accounting directly.
func (s *Session) OnInterleavedFrame(channel byte, payload []byte) {
	for i, track := range s.tracks {
		switch int(channel) {
		case track.spec.RTPChannel:
			var pkt rtp.Packet
			if err := pkt.Unmarshal(payload); err != nil {
				return
			}
			s.OnInboundRTP(i, media.Packet{
				Track:      i,
				SequenceNo: pkt.SequenceNumber,
				Timestamp:  pkt.Timestamp,
				Marker:     pkt.Marker,
				Payload:    pkt.Payload,
			})
			return
		case track.spec.RTCPChannel:
			pkts, err := rtcp.Unmarshal(payload)
			if err != nil || track.rtcp == nil {
				return
			}
			for _, p := range pkts {
				if sr, ok := p.(*rtcp.SenderReport); ok {
					track.rtcp.OnSR(sr, time.Now())
				}
			}
			return
		}
	}
}

// handleTeardown is a clean shutdown: a publisher's source closes at once
// (no reconnect grace period) and the connection is closed after the
// response is written.
func (s *Session) handleTeardown(req *Request) *Response {
	s.continuePush = 0
	s.Close()

	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, s.ID)
	resp.CloseConnection = true
	return resp
}

func (s *Session) handleKeepAlive(req *Request) *Response {
	resp := NewResponse(StatusOK)
	resp.CSeq = req.CSeq
	resp.SetHeader(HeaderSession, s.ID)
	return resp
}

func (s *Session) errorResponse(cseq, status int) *Response {
	resp := NewResponse(status)
	resp.CSeq = cseq
	return resp
}

// closingErrorResponse builds an error response for a protocol violation
// that spec.md §7 says must also tear down the connection (duplicate
// SETUP, unsupported transport, unknown method): the caller's request loop must stop
// reading once it sees Response.CloseConnection.
func (s *Session) closingErrorResponse(cseq, status int) *Response {
	resp := s.errorResponse(cseq, status)
	resp.CloseConnection = true
	s.state = StateTearingDown
	return resp
}

// rtpInfoHeader builds the RTP-Info header value PLAY and RECORD both
// emit: one url=...;seq=...;rtptime=... segment per SETUP track, joined
// by commas, matching the original implementation's response assembly.
func (s *Session) rtpInfoHeader(baseURI string) string {
	var parts []string
	for _, track := range s.tracks {
		parts = append(parts, fmt.Sprintf("url=%s/%s;seq=0;rtptime=0", strings.TrimRight(baseURI, "/"), track.control))
	}
	return strings.Join(parts, ",")
}

// Close releases every resource this session holds: cancels a pending
// FindAsync wait, stops RTCP tickers, closes transport senders, detaches
// playback readers, and releases publisher ownership if held.
//
// A RECORDing session with a configured continuePush grace period does
// not tear its source down immediately: ownership is released (so a
// reconnecting publisher can re-acquire it right away) but the source
// itself is kept registered for continuePush, after which it closes
// unless someone re-acquired ownership in the meantime (spec.md §4.6
// "Publisher lifecycle with reconnect", scenario S6).
func (s *Session) Close() {
	if s.cancelFind != nil {
		s.cancelFind()
		s.cancelFind = nil
	}
	for _, track := range s.tracks {
		if track.buffer != nil && track.reader != nil {
			track.buffer.Detach(track.reader)
		}
		if track.stopRTCP != nil {
			track.stopRTCP()
		}
		if track.sender != nil {
			utils.CloseWithLog(track.sender)
		}
	}

	s.ownership.Release()
	if s.source != nil {
		switch s.state {
		case StateRecording:
			if s.continuePush > 0 {
				s.source.ScheduleClose(s.continuePush)
			} else {
				s.source.Close()
			}
		case StateAnnounced:
			// ANNOUNCEd but never reached RECORD: nothing was ever
			// published, so there is no reconnect to wait for.
			s.source.Close()
		}
	}
	s.state = StateTearingDown

	if s.onClose != nil {
		s.onClose(s)
	}
}

func trailingSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	idx := strings.LastIndexByte(uri, '/')
	if idx < 0 {
		return uri
	}
	return uri[idx+1:]
}

func tupleKey(schema string, tuple mediatuple.Tuple) string {
	return fmt.Sprintf("%s/%s/%s/%s", schema, tuple.Vhost, tuple.App, tuple.Stream)
}

func remoteIP(conn io.ReadWriter) net.IP {
	if c, ok := conn.(net.Conn); ok {
		if tcpAddr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
			return tcpAddr.IP
		}
	}
	return net.IPv4zero
}
