// Package transport implements the three RTP/RTCP delivery flavors an
// RTSP SETUP request may negotiate: TCP-interleaved (framed inside the
// RTSP connection itself), UDP unicast (a pair of client-chosen ports,
// NAT-punched on the first inbound datagram), and UDP multicast (one
// shared socket pair per local address and stream, reference-counted
// across listeners). All three implement the Sender contract so a session can
// treat them interchangeably once SETUP completes.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedTransport is returned by ParseHeader when the client's
// Transport header does not name a profile this server understands
// (RTP/AVP or RTP/AVP/TCP); callers map it to RTSP 461.
var ErrUnsupportedTransport = errors.New("unsupported transport profile")

// Mode identifies which of the three delivery flavors a Spec describes.
type Mode int

const (
	ModeUDPUnicast Mode = iota
	ModeUDPMulticast
	ModeTCPInterleaved
)

func (m Mode) String() string {
	switch m {
	case ModeUDPUnicast:
		return "udp-unicast"
	case ModeUDPMulticast:
		return "udp-multicast"
	case ModeTCPInterleaved:
		return "tcp-interleaved"
	default:
		return "unknown"
	}
}

// Spec is a parsed RTSP Transport header, covering whichever fields its
// Mode uses. Unused fields are left at their zero value.
type Spec struct {
	Mode Mode

	// UDP unicast / multicast
	ClientRTPPort  int
	ClientRTCPPort int
	Destination    string // multicast group; empty for unicast
	TTL            int    // multicast only

	// TCP interleaved
	RTPChannel  int
	RTCPChannel int
}

// ParseHeader parses the value of an RTSP Transport request header,
// e.g. "RTP/AVP;unicast;client_port=4588-4589" or
// "RTP/AVP/TCP;interleaved=0-1". Only the first transport spec in a
// comma-separated list is honored, matching the common single-transport
// case; callers that need fallback negotiation should split on "," first.
func ParseHeader(header string) (Spec, error) {
	header, _, _ = strings.Cut(header, ",")
	fields := strings.Split(header, ";")
	if len(fields) == 0 {
		return Spec{}, fmt.Errorf("empty transport header")
	}
	if !strings.Contains(fields[0], "RTP/AVP") {
		return Spec{}, ErrUnsupportedTransport
	}

	spec := Spec{Mode: ModeUDPUnicast}
	isTCP := strings.Contains(fields[0], "/TCP")

	for _, raw := range fields[1:] {
		field := strings.TrimSpace(raw)
		switch {
		case field == "multicast":
			spec.Mode = ModeUDPMulticast
		case field == "unicast":
			// default mode, nothing to do
		case strings.HasPrefix(field, "destination="):
			spec.Destination = strings.TrimPrefix(field, "destination=")
		case strings.HasPrefix(field, "ttl="):
			spec.TTL, _ = strconv.Atoi(strings.TrimPrefix(field, "ttl="))
		case strings.HasPrefix(field, "client_port="):
			lo, hi, err := parsePortRange(strings.TrimPrefix(field, "client_port="))
			if err != nil {
				return Spec{}, err
			}
			spec.ClientRTPPort, spec.ClientRTCPPort = lo, hi
		case strings.HasPrefix(field, "interleaved="):
			lo, hi, err := parsePortRange(strings.TrimPrefix(field, "interleaved="))
			if err != nil {
				return Spec{}, err
			}
			spec.RTPChannel, spec.RTCPChannel = lo, hi
		}
	}

	if isTCP {
		spec.Mode = ModeTCPInterleaved
		if spec.RTPChannel == 0 && spec.RTCPChannel == 0 {
			spec.RTCPChannel = 1
		}
	}

	return spec, nil
}

// ParseMode maps a configuration string (e.g. a deployment's RTP
// transport force-policy) to a Mode. Recognized values are "tcp" (or
// "interleaved"), "udp" (or "unicast"), and "multicast", case-insensitive;
// anything else reports ok=false.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp", "interleaved":
		return ModeTCPInterleaved, true
	case "udp", "unicast":
		return ModeUDPUnicast, true
	case "multicast":
		return ModeUDPMulticast, true
	default:
		return 0, false
	}
}

func parsePortRange(s string) (lo, hi int, err error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	if len(parts) == 2 {
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
		}
	} else {
		hi = lo + 1
	}
	return lo, hi, nil
}

// BuildResponseHeader renders the Transport header the server echoes
// back in a SETUP response, filling in the server-chosen side of
// whichever flavor spec describes and always echoing the session's SSRC
// so a player can match RTCP SDES chunks to their track. localIP is the
// server's outbound address for the multicast flavor's "source=" field;
// it is ignored by the other two flavors.
func BuildResponseHeader(spec Spec, localIP string, serverRTPPort, serverRTCPPort int, ssrc uint32) string {
	var b strings.Builder

	switch spec.Mode {
	case ModeTCPInterleaved:
		b.WriteString("RTP/AVP/TCP;unicast")
		fmt.Fprintf(&b, ";interleaved=%d-%d", spec.RTPChannel, spec.RTCPChannel)
	case ModeUDPMulticast:
		b.WriteString("RTP/AVP;multicast")
		if spec.Destination != "" {
			fmt.Fprintf(&b, ";destination=%s", spec.Destination)
		}
		if localIP != "" {
			fmt.Fprintf(&b, ";source=%s", localIP)
		}
		fmt.Fprintf(&b, ";port=%d-%d", serverRTPPort, serverRTCPPort)
		if spec.TTL > 0 {
			fmt.Fprintf(&b, ";ttl=%d", spec.TTL)
		}
	default:
		b.WriteString("RTP/AVP;unicast")
		fmt.Fprintf(&b, ";client_port=%d-%d;server_port=%d-%d", spec.ClientRTPPort, spec.ClientRTCPPort, serverRTPPort, serverRTCPPort)
	}

	fmt.Fprintf(&b, ";ssrc=%08X", ssrc)
	return b.String()
}
