// Package sdpdoc builds the SDP bodies an RTSP DESCRIBE response carries
// and parses the ones an ANNOUNCE request supplies. Text-level SDP
// parsing is treated as an external collaborator's job — this package
// is a thin, track-oriented facade over github.com/pion/sdp/v3.
package sdpdoc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// TrackDescriptor is everything one RTSP track's SDP media section
// needs, independent of codec: the codec-specific details (fmtp,
// sprop-parameter-sets, ...) are opaque strings supplied by the
// media-source side, since codec internals are out of this package's
// scope.
type TrackDescriptor struct {
	Media        string // "video" or "audio"
	PayloadType  uint8
	EncodingName string // e.g. "H264", "MPEG4-GENERIC"
	ClockRate    uint32
	Channels     int    // audio only; 0 omits the "/channels" suffix
	Fmtp         string // raw a=fmtp value after "<pt> "; empty omits the line
	Control      string // e.g. "track1"
}

// BuildDescription renders a DESCRIBE response SDP body naming
// sessionName and describing each of tracks, with a session-level
// a=control:* so the server announces aggregate-control support.
func BuildDescription(sessionName string, tracks []TrackDescriptor) ([]byte, error) {
	now := uint64(time.Now().Unix())

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: sdp.SessionName(sessionName),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "tool", Value: "rtspengine"},
			{Key: "range", Value: "npt=0-"},
			{Key: "control", Value: "*"},
		},
	}

	for _, tr := range tracks {
		media, err := buildMediaDescription(tr)
		if err != nil {
			return nil, err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	return desc.Marshal()
}

func buildMediaDescription(tr TrackDescriptor) (*sdp.MediaDescription, error) {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   tr.Media,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(tr.PayloadType))},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}

	rtpmap := fmt.Sprintf("%d %s/%d", tr.PayloadType, tr.EncodingName, tr.ClockRate)
	if tr.Channels > 0 {
		rtpmap += fmt.Sprintf("/%d", tr.Channels)
	}
	md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: rtpmap})

	if tr.Fmtp != "" {
		md.Attributes = append(md.Attributes, sdp.Attribute{
			Key:   "fmtp",
			Value: fmt.Sprintf("%d %s", tr.PayloadType, tr.Fmtp),
		})
	}

	if tr.Control != "" {
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "control", Value: tr.Control})
	}

	return md, nil
}

// ParseAnnounce parses an ANNOUNCE request body into a track list a
// publisher's SETUPs can be matched against by Control value.
func ParseAnnounce(body []byte) ([]TrackDescriptor, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse announce sdp: %w", err)
	}

	tracks := make([]TrackDescriptor, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		tr := TrackDescriptor{Media: md.MediaName.Media}
		if len(md.MediaName.Formats) > 0 {
			if pt, err := strconv.Atoi(md.MediaName.Formats[0]); err == nil {
				tr.PayloadType = uint8(pt)
			}
		}
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				parseRtpmap(attr.Value, &tr)
			case "fmtp":
				_, fmtp, ok := strings.Cut(attr.Value, " ")
				if ok {
					tr.Fmtp = fmtp
				}
			case "control":
				tr.Control = attr.Value
			}
		}
		tracks = append(tracks, tr)
	}
	return tracks, nil
}

func parseRtpmap(value string, tr *TrackDescriptor) {
	_, rest, ok := strings.Cut(value, " ")
	if !ok {
		return
	}
	fields := strings.Split(rest, "/")
	if len(fields) >= 1 {
		tr.EncodingName = fields[0]
	}
	if len(fields) >= 2 {
		if rate, err := strconv.Atoi(fields[1]); err == nil {
			tr.ClockRate = uint32(rate)
		}
	}
	if len(fields) >= 3 {
		if ch, err := strconv.Atoi(fields[2]); err == nil {
			tr.Channels = ch
		}
	}
}
