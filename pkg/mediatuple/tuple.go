// Package mediatuple defines the identity of a media stream and the
// parsing rules that derive one from an RTSP/RTMP-style URL.
package mediatuple

import (
	"net/url"
	"strings"
)

// DefaultVhost is substituted whenever virtual-hosting is disabled or the
// caller did not specify one.
const DefaultVhost = "__defaultVhost__"

// Tuple identifies a stream within a schema: (vhost, app, stream, params).
// Two tuples are equal iff all four fields match.
type Tuple struct {
	Vhost  string
	App    string
	Stream string
	Params string
}

// Equal reports whether t and other name the same stream.
func (t Tuple) Equal(other Tuple) bool {
	return t.Vhost == other.Vhost && t.App == other.App &&
		t.Stream == other.Stream && t.Params == other.Params
}

// WithDefaultVhost returns a copy of t with Vhost substituted by
// DefaultVhost when vhostEnabled is false or Vhost is empty.
func (t Tuple) WithDefaultVhost(vhostEnabled bool) Tuple {
	if !vhostEnabled || t.Vhost == "" {
		t.Vhost = DefaultVhost
	}
	return t
}

// Info is a Tuple plus the wire-level details of the URL it was parsed
// from: schema, host, port and the full original query string.
type Info struct {
	Tuple
	Schema string
	Host   string
	Port   string
	URL    string
	Query  string
}

// Parse splits a stream URL into an Info following the rule: split off the
// "?"-query first, then the schema via "://", then path segments — the
// first segment is the app, the remainder joined by "/" is the stream.
// Without a schema there is no host part, so the first segment of the
// remainder is the app. A "vhost=" key in the query string overrides the
// host-derived vhost.
func Parse(rawURL string) (Info, error) {
	var info Info
	info.URL = rawURL

	query := ""
	base := rawURL
	if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
		base = rawURL[:idx]
		query = rawURL[idx+1:]
	}
	info.Query = query

	schema := ""
	rest := base
	if idx := strings.Index(base, "://"); idx >= 0 {
		schema = base[:idx]
		rest = base[idx+3:]
	}
	info.Schema = strings.ToLower(schema)

	host := ""
	path := rest
	if strings.Contains(base, "://") {
		host, path = rest, ""
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			host = rest[:idx]
			path = rest[idx+1:]
		}
	}

	hostname, port := splitHostPort(host)
	info.Host = hostname
	info.Port = port

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > 0 {
		info.App = segments[0]
	}
	if len(segments) > 1 {
		info.Stream = strings.Join(segments[1:], "/")
	}

	if query != "" {
		if values, err := url.ParseQuery(query); err == nil {
			if v := values.Get("vhost"); v != "" {
				info.Vhost = v
			}
		}
	}
	if info.Vhost == "" {
		info.Vhost = hostname
	}

	return info, nil
}

func splitHostPort(hostport string) (host, port string) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, ""
	}
	// a bracketed IPv6 literal with no port ("[::1]") has its last colon
	// inside the brackets: keep it whole. Unbracketed IPv6 literals are
	// not recognized and are split at their last colon.
	if strings.Contains(hostport[idx+1:], "]") {
		return hostport, ""
	}
	return hostport[:idx], hostport[idx+1:]
}
