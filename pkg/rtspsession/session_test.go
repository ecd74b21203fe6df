package rtspsession

import (
	"net"
	"sync"
	"testing"
	"time"

	"rtspengine/pkg/media"
	"rtspengine/pkg/mediatuple"
	"rtspengine/pkg/registry"
	"rtspengine/pkg/rtspauth"
	"rtspengine/pkg/sdpdoc"
	"rtspengine/pkg/transport"
)

type fakeSender struct {
	rtp  chan []byte
	rtcp chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{rtp: make(chan []byte, 32), rtcp: make(chan []byte, 32)}
}

func (f *fakeSender) SendRTP(p []byte) error  { f.rtp <- append([]byte(nil), p...); return nil }
func (f *fakeSender) SendRTCP(p []byte) error { f.rtcp <- append([]byte(nil), p...); return nil }
func (f *fakeSender) Close() error            { return nil }

type fakeFactory struct {
	lastSender *fakeSender
}

func (f *fakeFactory) NewInterleaved(rtpChannel, rtcpChannel int) transport.Sender {
	f.lastSender = newFakeSender()
	return f.lastSender
}

func (f *fakeFactory) NewUnicastUDP(clientIP net.IP, clientRTPPort, clientRTCPPort int) (transport.Sender, int, int, error) {
	f.lastSender = newFakeSender()
	return f.lastSender, 6000, 6001, nil
}

func (f *fakeFactory) NewMulticast(tuple string, group net.IP, rtpPort, rtcpPort, ttl int) (transport.Sender, int, int, error) {
	f.lastSender = newFakeSender()
	return f.lastSender, 7000, 7001, nil
}

func (f *fakeFactory) LocalIP() net.IP { return net.ParseIP("127.0.0.1") }

func fakeDescribe(schema string, tuple mediatuple.Tuple) ([]sdpdoc.TrackDescriptor, error) {
	return []sdpdoc.TrackDescriptor{{Media: "video", PayloadType: 96, EncodingName: "H264", ClockRate: 90000, Control: "track1"}}, nil
}

func newTestSession(reg *registry.Registry, factory TransportFactory) *Session {
	return NewSession(&fakeConn{}, reg, factory, fakeDescribe, nil)
}

type fakeConn struct{}

func (fakeConn) Read(p []byte) (int, error)  { return 0, nil }
func (fakeConn) Write(p []byte) (int, error) { return len(p), nil }

func req(method Method, uri string, cseq int, headers map[string]string) *Request {
	if headers == nil {
		headers = map[string]string{}
	}
	return &Request{Method: method, URI: uri, CSeq: cseq, Headers: headers}
}

// announceReq builds an ANNOUNCE whose body is a one-track SDP with
// control "track1", the track the SETUP requests below name.
func announceReq(uri string, cseq int) *Request {
	tracks, _ := fakeDescribe("rtsp", mediatuple.Tuple{})
	body, _ := sdpdoc.BuildDescription("", tracks)
	r := req(MethodAnnounce, uri, cseq, nil)
	r.Body = body
	return r
}

func TestOptionsListsMethods(t *testing.T) {
	s := newTestSession(registry.New(false), &fakeFactory{})
	var got *Response
	s.HandleRequest(req(MethodOptions, "rtsp://host/live/cam1", 1, nil), func(r *Response) { got = r })
	if got.StatusCode != StatusOK {
		t.Fatalf("expected 200, got %d", got.StatusCode)
	}
	if got.GetHeader(HeaderPublic) == "" {
		t.Fatal("expected Public header listing methods")
	}
}

func TestDescribeSetupPlayAgainstExistingSource(t *testing.T) {
	reg := registry.New(false)
	src := registry.NewSource("rtsp", mediatuple.Tuple{App: "live", Stream: "cam1"}, 1)
	if err := reg.Regist(src); err != nil {
		t.Fatalf("regist: %v", err)
	}
	src.Buffer(0).Write(media.Packet{Track: 0, SequenceNo: 1, Timestamp: 1000, KeyFrame: true, Payload: []byte{1, 2, 3}})

	factory := &fakeFactory{}
	s := newTestSession(reg, factory)

	var describeResp *Response
	s.HandleRequest(req(MethodDescribe, "rtsp://host/live/cam1", 1, nil), func(r *Response) { describeResp = r })
	if describeResp.StatusCode != StatusOK {
		t.Fatalf("expected describe 200, got %d: headers=%v", describeResp.StatusCode, describeResp.Headers)
	}
	if len(describeResp.Body) == 0 {
		t.Fatal("expected non-empty SDP body")
	}

	var setupResp *Response
	setupReq := req(MethodSetup, "rtsp://host/live/cam1/track1", 2, map[string]string{HeaderTransport: "RTP/AVP/TCP;unicast;interleaved=0-1"})
	s.HandleRequest(setupReq, func(r *Response) { setupResp = r })
	if setupResp.StatusCode != StatusOK {
		t.Fatalf("expected setup 200, got %d", setupResp.StatusCode)
	}
	sessionHeader := setupResp.GetHeader(HeaderSession)
	if sessionHeader == "" {
		t.Fatal("expected Session header in setup response")
	}

	var playResp *Response
	playReq := req(MethodPlay, "rtsp://host/live/cam1", 3, map[string]string{HeaderSession: s.ID})
	s.HandleRequest(playReq, func(r *Response) { playResp = r })
	if playResp.StatusCode != StatusOK {
		t.Fatalf("expected play 200, got %d", playResp.StatusCode)
	}
	if s.state != StatePlaying {
		t.Fatalf("expected state Playing, got %v", s.state)
	}

	select {
	case got := <-factory.lastSender.rtp:
		if len(got) == 0 {
			t.Fatal("expected non-empty rtp packet forwarded")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pumped RTP packet")
	}

	s.Close()
}

// TestAnnounceSetupRecordEnforcesAtMostOnePublisher drives two sessions'
// ANNOUNCE for the same tuple through a barrier so they race the registry
// concurrently (spec.md §8 Property #1): at most one may win, and the
// loser gets exactly 406, not merely "not 200".
func TestAnnounceSetupRecordEnforcesAtMostOnePublisher(t *testing.T) {
	reg := registry.New(false)
	factory := &fakeFactory{}

	const n = 8
	start := make(chan struct{})
	type result struct {
		session *Session
		resp    *Response
	}
	results := make(chan result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(cseq int) {
			defer wg.Done()
			s := newTestSession(reg, factory)
			<-start
			var resp *Response
			s.HandleRequest(announceReq("rtsp://host/live/cam1", cseq), func(r *Response) { resp = r })
			results <- result{s, resp}
		}(i + 1)
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, conflicts int
	for res := range results {
		switch res.resp.StatusCode {
		case StatusOK:
			wins++
			defer res.session.Close()
		case StatusNotAcceptable:
			conflicts++
		default:
			t.Fatalf("unexpected ANNOUNCE status %d", res.resp.StatusCode)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one ANNOUNCE to win, got %d", wins)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d ANNOUNCEs rejected with 406, got %d", n-1, conflicts)
	}

	s := newTestSession(reg, factory)
	s.HandleRequest(announceReq("rtsp://host/live/cam2", 1), func(r *Response) {})
	s.HandleRequest(req(MethodSetup, "rtsp://host/live/cam2/track1", 2, map[string]string{HeaderTransport: "RTP/AVP/TCP;unicast;interleaved=0-1"}), func(r *Response) {})
	var recordResp *Response
	s.HandleRequest(req(MethodRecord, "rtsp://host/live/cam2", 3, map[string]string{HeaderSession: s.ID}), func(r *Response) { recordResp = r })
	if recordResp.StatusCode != StatusOK {
		t.Fatalf("expected RECORD to succeed after a clean ANNOUNCE/SETUP, got %d", recordResp.StatusCode)
	}
	if s.state != StateRecording {
		t.Fatalf("expected session recording, got %v", s.state)
	}
	s.Close()
}

func TestTeardownClosesSession(t *testing.T) {
	reg := registry.New(false)
	factory := &fakeFactory{}
	s := newTestSession(reg, factory)

	closed := make(chan struct{}, 1)
	s.OnClose(func(*Session) { closed <- struct{}{} })

	s.HandleRequest(announceReq("rtsp://host/live/cam1", 1), func(r *Response) {})
	s.HandleRequest(req(MethodTeardown, "rtsp://host/live/cam1", 2, map[string]string{HeaderSession: s.ID}), func(r *Response) {})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected OnClose to fire on TEARDOWN")
	}
	if s.state != StateTearingDown {
		t.Fatalf("expected state TearingDown, got %v", s.state)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	reg := registry.New(false)
	factory := &fakeFactory{}
	auth := rtspauth.NewConfig("rtsp-engine", false, func(realm, user string) (string, bool) { return "", false }, nil).NewSession()
	s := NewSession(&fakeConn{}, reg, factory, fakeDescribe, auth)

	var resp *Response
	s.HandleRequest(req(MethodDescribe, "rtsp://host/live/cam1", 1, nil), func(r *Response) { resp = r })
	if resp.StatusCode != StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.GetHeader(HeaderWWWAuth) == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestWrongSessionIDRejected(t *testing.T) {
	reg := registry.New(false)
	factory := &fakeFactory{}
	s := newTestSession(reg, factory)

	var resp *Response
	s.HandleRequest(req(MethodPlay, "rtsp://host/live/cam1", 1, map[string]string{HeaderSession: "not-a-real-session"}), func(r *Response) { resp = r })
	if resp.StatusCode != StatusSessionNotFound {
		t.Fatalf("expected 454, got %d", resp.StatusCode)
	}
}
