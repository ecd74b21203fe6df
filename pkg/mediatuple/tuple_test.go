package mediatuple

import "testing"

func TestParseBasicURL(t *testing.T) {
	info, err := Parse("rtsp://192.168.1.1:554/live/cam1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Schema != "rtsp" || info.Host != "192.168.1.1" || info.Port != "554" {
		t.Fatalf("unexpected host parts: %+v", info)
	}
	if info.App != "live" || info.Stream != "cam1" {
		t.Fatalf("unexpected app/stream: %+v", info)
	}
	if info.Vhost != "192.168.1.1" {
		t.Fatalf("expected vhost to default to hostname, got %q", info.Vhost)
	}
}

func TestParseMultiSegmentStream(t *testing.T) {
	info, err := Parse("rtsp://host/live/cam1/sub")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.App != "live" || info.Stream != "cam1/sub" {
		t.Fatalf("expected nested stream path preserved, got app=%q stream=%q", info.App, info.Stream)
	}
}

func TestParseVhostQueryOverride(t *testing.T) {
	info, err := Parse("rtsp://host/live/cam1?vhost=example.com&token=abc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Vhost != "example.com" {
		t.Fatalf("expected vhost query override, got %q", info.Vhost)
	}
	if info.Query != "vhost=example.com&token=abc" {
		t.Fatalf("expected raw query preserved, got %q", info.Query)
	}
}

func TestParseNoSchema(t *testing.T) {
	info, err := Parse("live/cam1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Schema != "" || info.App != "live" || info.Stream != "cam1" {
		t.Fatalf("unexpected parse without schema: %+v", info)
	}
}

func TestWithDefaultVhost(t *testing.T) {
	tup := Tuple{Vhost: "custom", App: "live", Stream: "cam1"}
	if got := tup.WithDefaultVhost(true); got.Vhost != "custom" {
		t.Fatalf("expected custom vhost preserved when enabled, got %q", got.Vhost)
	}
	if got := tup.WithDefaultVhost(false); got.Vhost != DefaultVhost {
		t.Fatalf("expected default vhost substitution when disabled, got %q", got.Vhost)
	}

	empty := Tuple{App: "live", Stream: "cam1"}
	if got := empty.WithDefaultVhost(true); got.Vhost != DefaultVhost {
		t.Fatalf("expected empty vhost to fall back to default even when enabled, got %q", got.Vhost)
	}
}

func TestEqual(t *testing.T) {
	a := Tuple{Vhost: "v", App: "live", Stream: "cam1"}
	b := Tuple{Vhost: "v", App: "live", Stream: "cam1"}
	c := Tuple{Vhost: "v", App: "live", Stream: "cam2"}
	if !a.Equal(b) {
		t.Fatal("expected equal tuples to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing stream to compare unequal")
	}
}

func TestSplitHostPortGuardsIPv6(t *testing.T) {
	host, port := splitHostPort("[::1]:554")
	if host != "[::1]" || port != "554" {
		t.Fatalf("expected bracketed IPv6 literal split from its port, got host=%q port=%q", host, port)
	}

	host, port = splitHostPort("[::1]")
	if host != "[::1]" || port != "" {
		t.Fatalf("expected bracketed IPv6 literal without port left untouched, got host=%q port=%q", host, port)
	}

	host, port = splitHostPort("192.168.1.1:554")
	if host != "192.168.1.1" || port != "554" {
		t.Fatalf("unexpected ipv4 split: host=%q port=%q", host, port)
	}
}
