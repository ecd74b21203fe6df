package sdpdoc

import (
	"strings"
	"testing"
)

func TestBuildDescriptionContainsTrackControl(t *testing.T) {
	body, err := BuildDescription("rtsp-engine stream", []TrackDescriptor{
		{Media: "video", PayloadType: 96, EncodingName: "H264", ClockRate: 90000, Fmtp: "packetization-mode=1", Control: "track1"},
		{Media: "audio", PayloadType: 97, EncodingName: "MPEG4-GENERIC", ClockRate: 48000, Channels: 2, Control: "track2"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := string(body)
	for _, want := range []string{"m=video", "m=audio", "a=control:track1", "a=control:track2", "a=rtpmap:96 H264/90000", "a=rtpmap:97 MPEG4-GENERIC/48000/2"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, s)
		}
	}
}

func TestParseAnnounceRoundTrip(t *testing.T) {
	body, err := BuildDescription("publisher", []TrackDescriptor{
		{Media: "video", PayloadType: 96, EncodingName: "H264", ClockRate: 90000, Fmtp: "packetization-mode=1", Control: "track1"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	tracks, err := ParseAnnounce(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if tr.Media != "video" || tr.PayloadType != 96 || tr.EncodingName != "H264" || tr.ClockRate != 90000 {
		t.Fatalf("unexpected parsed track: %+v", tr)
	}
	if tr.Control != "track1" {
		t.Fatalf("expected control track1, got %q", tr.Control)
	}
	if tr.Fmtp != "packetization-mode=1" {
		t.Fatalf("expected fmtp to round-trip, got %q", tr.Fmtp)
	}
}
