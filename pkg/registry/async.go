package registry

import (
	"sync"
	"time"

	"rtspengine/pkg/mediatuple"
)

// NotFoundEvent is broadcast when FindAsync misses immediately. A
// subscriber may use ClosePlayer to short-circuit the wait (e.g. once it
// determines on-demand pulling from upstream is hopeless).
type NotFoundEvent struct {
	Schema      string
	Tuple       mediatuple.Tuple
	ClosePlayer func()
}

// SetNotFoundHandler installs fn, which is invoked synchronously every time FindAsync does
// not find a source immediately. It is the hook an on-demand-pull
// collaborator attaches to.
func (r *Registry) SetNotFoundHandler(fn func(NotFoundEvent)) {
	r.mu.Lock()
	r.notFound = fn
	r.mu.Unlock()
}

// FindAsync resolves like Find, except that a miss does not return
// immediately: it waits (up to timeout) for a matching registration
// event, then retries. Exactly one of {timeout, registration event,
// ClosePlayer} ends the wait, guarded by a test-and-set so cb runs at
// most once. cb is always invoked via dispatch (the session's own
// execution context), even on the immediate-hit path, so callers never
// need to special-case synchronous vs. asynchronous completion.
//
// The returned cancel func stops the wait without invoking cb; sessions
// call it on shutdown so a late registration event cannot resurrect a
// torn-down session.
func (r *Registry) FindAsync(
	schema string,
	tuple mediatuple.Tuple,
	allowMp4Fallback bool,
	sessionTag any,
	dispatch func(func()),
	timeout time.Duration,
	cb func(*Source),
) (cancel func()) {
	if src := r.Find(schema, tuple, allowMp4Fallback); src != nil {
		dispatch(func() { cb(src) })
		return func() {}
	}

	var once sync.Once
	finish := func(resolve bool) {
		once.Do(func() {
			r.bus.unsubscribe(sessionTag)
			if resolve {
				dispatch(func() { cb(r.Find(schema, tuple, allowMp4Fallback)) })
			}
		})
	}

	timer := time.AfterFunc(timeout, func() { finish(true) })

	// Regist stores the tuple with its vhost defaulted; compare likewise.
	want := tuple.WithDefaultVhost(r.VhostEnabled)
	r.bus.subscribe(sessionTag, func(evt ChangedEvent) {
		if !evt.Regist || evt.Schema != schema || !evt.Tuple.Equal(want) {
			return
		}
		timer.Stop()
		finish(true)
	})

	if r.notFound != nil {
		r.notFound(NotFoundEvent{
			Schema: schema,
			Tuple:  tuple,
			ClosePlayer: func() {
				timer.Stop()
				once.Do(func() {
					r.bus.unsubscribe(sessionTag)
					dispatch(func() { cb(nil) })
				})
			},
		})
	}

	return func() {
		timer.Stop()
		once.Do(func() {
			r.bus.unsubscribe(sessionTag)
		})
	}
}
