package main

import (
	"fmt"

	"rtspengine/pkg/mediatuple"
	"rtspengine/pkg/registry"
	"rtspengine/pkg/sdpdoc"
)

// newRegistryDescribeProvider builds a DescribeProvider that answers a
// player's DESCRIBE from whatever the matching publisher's ANNOUNCE
// recorded — spec's out-of-scope codec negotiation happens upstream, at
// ANNOUNCE time, not here.
func newRegistryDescribeProvider(reg *registry.Registry) func(schema string, tuple mediatuple.Tuple) ([]sdpdoc.TrackDescriptor, error) {
	return func(schema string, tuple mediatuple.Tuple) ([]sdpdoc.TrackDescriptor, error) {
		src := reg.Find(schema, tuple, reg.Mp4Fallback != nil)
		if src == nil {
			return nil, fmt.Errorf("no source registered for %s %s/%s/%s", schema, tuple.Vhost, tuple.App, tuple.Stream)
		}
		tracks := src.Descriptors()
		if len(tracks) == 0 {
			return nil, fmt.Errorf("source %s/%s/%s has no announced tracks", tuple.Vhost, tuple.App, tuple.Stream)
		}
		return tracks, nil
	}
}
