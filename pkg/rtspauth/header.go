package rtspauth

import (
	"fmt"
	"strings"
)

// Scheme identifies which RTSP authentication scheme is in play.
type Scheme int

const (
	SchemeDigest Scheme = iota
	SchemeBasic
)

// Challenge is the content of a WWW-Authenticate header this server
// issues on a 401 response.
type Challenge struct {
	Scheme Scheme
	Realm  string
	Nonce  string // Digest only
}

// String renders the WWW-Authenticate header value.
func (c Challenge) String() string {
	if c.Scheme == SchemeBasic {
		return fmt.Sprintf(`Basic realm="%s"`, c.Realm)
	}
	return fmt.Sprintf(`Digest realm="%s",nonce="%s"`, c.Realm, c.Nonce)
}

// Credentials is a parsed Authorization request header.
type Credentials struct {
	Scheme   Scheme
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string

	// Basic only
	BasicPayload string // base64(user:pass), still undecoded
}

// ParseAuthorization parses the value of a client's Authorization
// header, accepting both "Digest ..." and "Basic ..." forms.
func ParseAuthorization(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	switch {
	case strings.HasPrefix(header, "Digest "):
		return parseDigestAuthorization(strings.TrimPrefix(header, "Digest "))
	case strings.HasPrefix(header, "Basic "):
		return Credentials{Scheme: SchemeBasic, BasicPayload: strings.TrimSpace(strings.TrimPrefix(header, "Basic "))}, nil
	default:
		return Credentials{}, fmt.Errorf("unsupported authorization scheme")
	}
}

func parseDigestAuthorization(rest string) (Credentials, error) {
	creds := Credentials{Scheme: SchemeDigest}
	for _, part := range splitDigestParams(rest) {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch key {
		case "username":
			creds.Username = val
		case "realm":
			creds.Realm = val
		case "nonce":
			creds.Nonce = val
		case "uri":
			creds.URI = val
		case "response":
			creds.Response = val
		}
	}
	if creds.Username == "" || creds.URI == "" || creds.Response == "" {
		return Credentials{}, fmt.Errorf("digest authorization missing username/uri/response")
	}
	return creds, nil
}

// splitDigestParams splits comma-separated Digest params while leaving
// commas inside quoted values (none are expected here, but uri values
// may contain arbitrary characters) untouched.
func splitDigestParams(s string) []string {
	var parts []string
	var inQuotes bool
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
