package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"rtspengine/pkg/mediatuple"
)

// schemaOrder is the fallback search order used by FindAnySchema.
var schemaOrder = []string{"rtmp", "rtsp", "ts", "fmp4", "hls", "hls-fmp4"}

// Mp4Fallback instantiates an on-demand MP4-backed source when a find()
// misses. It is an external collaborator (spec §1 places MP4-on-demand
// reading out of scope); nil disables the fallback entirely.
type Mp4Fallback func(schema string, tuple mediatuple.Tuple) (*Source, error)

// Registry is the process-wide index of live media sources, keyed by
// schema -> vhost -> app -> stream. All mutation happens under a single
// mutex; "media changed" events are always emitted after the mutex is
// released, so listeners never re-enter the registry while it is locked.
type Registry struct {
	mu    sync.Mutex
	index map[string]map[string]map[string]map[string]*Source

	VhostEnabled bool
	Mp4Fallback  Mp4Fallback

	bus      *bus
	notFound func(NotFoundEvent)

	// fallback collapses concurrent Find calls for the same (schema,
	// tuple) into a single Mp4Fallback instantiation — several players
	// arriving for the same on-demand file at once should not each race
	// to register a different Source.
	fallback singleflight.Group
}

// New creates an empty Registry.
func New(vhostEnabled bool) *Registry {
	return &Registry{
		index:        make(map[string]map[string]map[string]map[string]*Source),
		VhostEnabled: vhostEnabled,
		bus:          newBus(),
	}
}

// Regist inserts src into the index under (src.Schema, src.Tuple),
// applying default-vhost substitution. Re-registering the same object is
// a no-op; registering a different object at an occupied slot fails.
func (r *Registry) Regist(src *Source) error {
	tuple := src.Tuple.WithDefaultVhost(r.VhostEnabled)

	r.mu.Lock()
	apps, ok := r.index[src.Schema]
	if !ok {
		apps = make(map[string]map[string]map[string]*Source)
		r.index[src.Schema] = apps
	}
	streams, ok := apps[tuple.Vhost]
	if !ok {
		streams = make(map[string]map[string]*Source)
		apps[tuple.Vhost] = streams
	}
	srcs, ok := streams[tuple.App]
	if !ok {
		srcs = make(map[string]*Source)
		streams[tuple.App] = srcs
	}

	if existing, ok := srcs[tuple.Stream]; ok {
		if existing == src {
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()
		return fmt.Errorf("media source already existed: %s %s/%s/%s", src.Schema, tuple.Vhost, tuple.App, tuple.Stream)
	}

	src.Tuple = tuple
	src.registry = r
	srcs[tuple.Stream] = src
	r.mu.Unlock()

	slog.Info("media source registered", "schema", src.Schema, "vhost", tuple.Vhost, "app", tuple.App, "stream", tuple.Stream)
	r.bus.publish(ChangedEvent{Regist: true, Schema: src.Schema, Tuple: tuple, Source: src})
	return nil
}

// Unregist removes src from the index, compacting now-empty parent maps,
// and fires the matching "media changed" event. A no-op if src is not the
// object currently registered at its slot.
func (r *Registry) Unregist(src *Source) {
	tuple := src.Tuple

	r.mu.Lock()
	removed := false
	if apps, ok := r.index[src.Schema]; ok {
		if streams, ok := apps[tuple.Vhost]; ok {
			if srcs, ok := streams[tuple.App]; ok {
				if srcs[tuple.Stream] == src {
					delete(srcs, tuple.Stream)
					removed = true
					if len(srcs) == 0 {
						delete(streams, tuple.App)
					}
				}
				if len(streams) == 0 {
					delete(apps, tuple.Vhost)
				}
			}
		}
		if len(apps) == 0 {
			delete(r.index, src.Schema)
		}
	}
	r.mu.Unlock()

	if !removed {
		return
	}
	slog.Info("media source unregistered", "schema", src.Schema, "vhost", tuple.Vhost, "app", tuple.App, "stream", tuple.Stream)
	r.bus.publish(ChangedEvent{Regist: false, Schema: src.Schema, Tuple: tuple, Source: src})
}

// Find looks up a single source. An empty app or stream always misses —
// this API is not for enumeration, use ForEach. If no source is found,
// allowMp4Fallback is set, and schema is not "hls", Find attempts to
// instantiate an MP4-backed source via r.Mp4Fallback and re-queries.
func (r *Registry) Find(schema string, tuple mediatuple.Tuple, allowMp4Fallback bool) *Source {
	if tuple.App == "" || tuple.Stream == "" {
		return nil
	}
	tuple = tuple.WithDefaultVhost(r.VhostEnabled)

	if src := r.lookup(schema, tuple); src != nil {
		return src
	}

	if allowMp4Fallback && schema != "hls" && r.Mp4Fallback != nil {
		key := fmt.Sprintf("%s/%s/%s/%s", schema, tuple.Vhost, tuple.App, tuple.Stream)
		_, err, _ := r.fallback.Do(key, func() (any, error) {
			// Re-check under the singleflight key: a concurrent caller
			// may have already won the race and registered the source
			// while we were waiting to be scheduled.
			if src := r.lookup(schema, tuple); src != nil {
				return src, nil
			}
			src, err := r.Mp4Fallback(schema, tuple)
			if err != nil {
				return nil, err
			}
			if src == nil {
				return nil, nil
			}
			if err := r.Regist(src); err != nil {
				return nil, err
			}
			return src, nil
		})
		if err != nil {
			slog.Debug("mp4 fallback failed", "schema", schema, "tuple", tuple, "err", err)
			return nil
		}
		return r.lookup(schema, tuple)
	}

	return nil
}

// FindAnySchema tries every known schema in a fixed priority order and
// returns the first hit.
func (r *Registry) FindAnySchema(tuple mediatuple.Tuple, allowMp4Fallback bool) *Source {
	for _, schema := range schemaOrder {
		if src := r.Find(schema, tuple, allowMp4Fallback); src != nil {
			return src
		}
	}
	return nil
}

func (r *Registry) lookup(schema string, tuple mediatuple.Tuple) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	apps, ok := r.index[schema]
	if !ok {
		return nil
	}
	streams, ok := apps[tuple.Vhost]
	if !ok {
		return nil
	}
	srcs, ok := streams[tuple.App]
	if !ok {
		return nil
	}
	return srcs[tuple.Stream]
}

// ForEach snapshots every source matching the given filters — an empty
// string at any level is a wildcard — under the registry lock, then
// invokes cb for each one outside the lock so cb may safely do I/O.
func (r *Registry) ForEach(cb func(*Source), schema, vhost, app, stream string) {
	var snapshot []*Source

	r.mu.Lock()
	for s, apps := range r.index {
		if schema != "" && s != schema {
			continue
		}
		for v, streams := range apps {
			if vhost != "" && v != vhost {
				continue
			}
			for a, srcs := range streams {
				if app != "" && a != app {
					continue
				}
				for st, src := range srcs {
					if stream != "" && st != stream {
						continue
					}
					snapshot = append(snapshot, src)
				}
			}
		}
	}
	r.mu.Unlock()

	for _, src := range snapshot {
		cb(src)
	}
}
