package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rtspengine/pkg/mediatuple"
)

func tuple(app, stream string) mediatuple.Tuple {
	return mediatuple.Tuple{App: app, Stream: stream}
}

func TestRegistAtMostOnePublisher(t *testing.T) {
	r := New(false)
	a := NewSource("rtsp", tuple("live", "cam1"), 2)
	b := NewSource("rtsp", tuple("live", "cam1"), 2)

	if err := r.Regist(a); err != nil {
		t.Fatalf("first regist failed: %v", err)
	}
	if err := r.Regist(b); err == nil {
		t.Fatal("expected second regist of a different object at the same slot to fail")
	}
	// re-registering the same object is a no-op, not an error.
	if err := r.Regist(a); err != nil {
		t.Fatalf("re-registering the same object should be a no-op: %v", err)
	}
}

func TestUnregistCompactsEmptyMaps(t *testing.T) {
	r := New(false)
	src := NewSource("rtsp", tuple("live", "cam1"), 1)
	_ = r.Regist(src)
	r.Unregist(src)

	if got := r.Find("rtsp", tuple("live", "cam1"), false); got != nil {
		t.Fatal("expected source to be gone after Unregist")
	}
	r.mu.Lock()
	empty := len(r.index) == 0
	r.mu.Unlock()
	if !empty {
		t.Fatal("expected empty parent maps to be compacted away")
	}
}

func TestFindEmptyAppOrStreamAlwaysMisses(t *testing.T) {
	r := New(false)
	src := NewSource("rtsp", tuple("live", "cam1"), 1)
	_ = r.Regist(src)

	if got := r.Find("rtsp", mediatuple.Tuple{App: "", Stream: "cam1"}, false); got != nil {
		t.Fatal("expected empty app to miss")
	}
	if got := r.Find("rtsp", mediatuple.Tuple{App: "live", Stream: ""}, false); got != nil {
		t.Fatal("expected empty stream to miss")
	}
}

func TestForEachWildcardsAndSnapshot(t *testing.T) {
	r := New(false)
	_ = r.Regist(NewSource("rtsp", tuple("live", "a"), 1))
	_ = r.Regist(NewSource("rtsp", tuple("live", "b"), 1))
	_ = r.Regist(NewSource("rtmp", tuple("live", "c"), 1))

	var names []string
	r.ForEach(func(s *Source) { names = append(names, s.Tuple.Stream) }, "rtsp", "", "", "")
	if len(names) != 2 {
		t.Fatalf("expected 2 rtsp sources, got %d (%v)", len(names), names)
	}
}

func TestMp4FallbackGatedBySchema(t *testing.T) {
	var called atomic.Bool
	r := New(false)
	r.Mp4Fallback = func(schema string, tup mediatuple.Tuple) (*Source, error) {
		called.Store(true)
		return NewSource(schema, tup, 1), nil
	}

	r.Find("hls", tuple("live", "missing"), true)
	if called.Load() {
		t.Fatal("expected MP4 fallback never to be invoked for hls schema")
	}

	r.Find("rtsp", tuple("live", "missing"), true)
	if !called.Load() {
		t.Fatal("expected MP4 fallback to be invoked for non-hls schema")
	}
}

func TestFindAsyncResolvesOnRegistration(t *testing.T) {
	r := New(false)
	done := make(chan *Source, 1)

	cancel := r.FindAsync("rtsp", tuple("live", "cam1"), false, "sess-1",
		func(fn func()) { fn() }, time.Second, func(s *Source) { done <- s })
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Regist(NewSource("rtsp", tuple("live", "cam1"), 1))
	}()

	select {
	case src := <-done:
		if src == nil {
			t.Fatal("expected a source after registration")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for find_async to resolve")
	}
}

func TestFindAsyncExactlyOnceUnderRace(t *testing.T) {
	r := New(false)
	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)

	cancel := r.FindAsync("rtsp", tuple("live", "cam1"), false, "sess-2",
		func(fn func()) { fn() }, 10*time.Millisecond, func(s *Source) {
			atomic.AddInt32(&calls, 1)
			wg.Done()
		})
	defer cancel()

	_ = r.Regist(NewSource("rtsp", tuple("live", "cam1"), 1))

	wg.Wait()
	time.Sleep(50 * time.Millisecond) // let the timeout path, if racing, prove it is a no-op

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected callback exactly once, got %d", got)
	}
}

func TestFindAsyncTimeout(t *testing.T) {
	r := New(false)
	done := make(chan *Source, 1)

	cancel := r.FindAsync("rtsp", tuple("live", "never"), false, "sess-3",
		func(fn func()) { fn() }, 20*time.Millisecond, func(s *Source) { done <- s })
	defer cancel()

	select {
	case src := <-done:
		if src != nil {
			t.Fatal("expected nil source on timeout")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for find_async timeout path")
	}
}
