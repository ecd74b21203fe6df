// Package registry implements the process-wide media source index: a
// four-level map keyed by (schema, vhost, app, stream) plus the
// asynchronous "wait for registration" lookup used by player sessions
// that arrive before a publisher does.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"rtspengine/pkg/media"
	"rtspengine/pkg/mediatuple"
	"rtspengine/pkg/sdpdoc"
)

// EventListener receives lifecycle notifications about a Source it did
// not create itself — the registry's way of telling an attached reader
// "the publisher went away" without either side holding the other alive.
type EventListener interface {
	// OnSourceClosed is invoked once, after the Source has been
	// unregistered, on whatever goroutine called Close/Unregister.
	OnSourceClosed(src *Source)
}

// Ownership is a single-holder token: exactly one goroutine may hold it
// for a given Source at a time. Acquisition is test-and-set; release
// happens through the returned handle so a session that errors out
// mid-RECORD cannot leak the slot.
type Ownership struct {
	held atomic.Bool
}

// Handle is returned by Ownership.Acquire and releases the token at most
// once, however many times Release is called on it (or on copies of it).
// A Handle that is never released keeps the token held — callers must
// defer Release.
type Handle struct {
	o        *Ownership
	released *atomic.Bool
}

// Acquire attempts to take the token, returning (handle, true) on
// success or (zero, false) if another holder already has it.
func (o *Ownership) Acquire() (Handle, bool) {
	if o.held.CompareAndSwap(false, true) {
		return Handle{o: o, released: new(atomic.Bool)}, true
	}
	return Handle{}, false
}

// Release gives up the token. Safe to call on a zero Handle (no-op) and
// safe to call more than once.
func (h Handle) Release() {
	if h.o == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.o.held.Store(false)
}

// Source is a registered live stream identified by (schema, Tuple). At
// most one Source may be registered for a given (schema, vhost, app,
// stream) at any time — the registry enforces this in Regist.
type Source struct {
	Schema    string
	Tuple     mediatuple.Tuple
	CreatedAt time.Time

	ownership   Ownership
	buffers     []*media.Buffer         // one per SETUP track, index-aligned
	descriptors []sdpdoc.TrackDescriptor // the publisher's ANNOUNCEd track list, reused to answer a player's DESCRIBE

	listener EventListener // the session that owns this source, if any

	registry *Registry // set by Regist; nil before first registration

	closeMu    sync.Mutex
	closeTimer *time.Timer // reconnect-grace-period close, pending while a publisher is reconnecting
}

// NewSource allocates an unregistered Source for trackCount tracks.
func NewSource(schema string, tuple mediatuple.Tuple, trackCount int) *Source {
	buffers := make([]*media.Buffer, trackCount)
	for i := range buffers {
		buffers[i] = media.NewBuffer(1000)
	}
	return &Source{
		Schema:    schema,
		Tuple:     tuple,
		CreatedAt: time.Now(),
		buffers:   buffers,
	}
}

// Buffer returns the ring buffer for the given track index, or nil if out
// of range.
func (s *Source) Buffer(track int) *media.Buffer {
	if track < 0 || track >= len(s.buffers) {
		return nil
	}
	return s.buffers[track]
}

// TrackCount returns the number of tracks this source was created with.
func (s *Source) TrackCount() int {
	return len(s.buffers)
}

// SetDescriptors records the publisher's ANNOUNCEd track descriptors so
// a later DESCRIBE from a player can rebuild the same SDP.
func (s *Source) SetDescriptors(tracks []sdpdoc.TrackDescriptor) {
	s.descriptors = tracks
}

// Descriptors returns the track descriptors set via SetDescriptors, or
// nil if the source was never given any.
func (s *Source) Descriptors() []sdpdoc.TrackDescriptor {
	return s.descriptors
}

// SetListener installs the event listener invoked when this source is
// unregistered. A source has at most one listener — its owning session.
func (s *Source) SetListener(l EventListener) {
	s.listener = l
}

// AcquireOwnership attempts to become this source's publisher. Success
// cancels any reconnect-grace-period close a previous owner's disconnect
// scheduled via ScheduleClose — a publisher reconnecting within the
// grace window resumes the same Source rather than racing its teardown.
func (s *Source) AcquireOwnership() (Handle, bool) {
	h, ok := s.ownership.Acquire()
	if ok {
		s.closeMu.Lock()
		if s.closeTimer != nil {
			s.closeTimer.Stop()
			s.closeTimer = nil
		}
		s.closeMu.Unlock()
	}
	return h, ok
}

// ScheduleClose arranges for Close to run after grace unless cancelled
// first by a new AcquireOwnership — the publisher reconnect grace period
// of spec.md §4.6. Calling it again replaces any previously scheduled
// close.
func (s *Source) ScheduleClose(grace time.Duration) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.closeTimer = time.AfterFunc(grace, s.Close)
}

// AliveSeconds returns how long ago this source was created (CreatedAt,
// set by NewSource).
func (s *Source) AliveSeconds() float64 {
	return time.Since(s.CreatedAt).Seconds()
}

// Close unregisters the source from its registry (if any) and closes
// every track buffer, waking any attached readers.
func (s *Source) Close() {
	if s.registry != nil {
		s.registry.Unregist(s)
	}
	for _, b := range s.buffers {
		if b != nil {
			b.Close()
		}
	}
	if s.listener != nil {
		s.listener.OnSourceClosed(s)
	}
}
