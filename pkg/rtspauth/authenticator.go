package rtspauth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// CredentialLookup resolves a username within a realm to its HA1 hash.
// Returning ok=false (unknown user) and ok=true with a mismatching hash
// are both treated as authentication failure — the caller cannot
// distinguish them from the response alone, matching the upstream
// behavior of never confirming whether a username exists.
type CredentialLookup func(realm, user string) (ha1 string, ok bool)

// PlayAuthorizer is consulted after basic Digest/Basic credential
// verification succeeds, deciding whether this specific user may PLAY
// (or RECORD) this specific stream — e.g. a per-stream token or ACL
// check layered on top of realm-wide credentials. A nil PlayAuthorizer
// allows anything that already passed credential verification.
type PlayAuthorizer func(realm, user, uri string) bool

// Config is the server-wide authentication policy: which realm, which
// scheme, and the credential/authorization callbacks. It carries no
// per-connection state and is safe to share, by pointer, across every
// accepted connection.
type Config struct {
	Realm     string
	Basic     bool // true: server is configured for Basic auth, not Digest
	lookup    CredentialLookup
	playAuthz PlayAuthorizer
}

// NewConfig builds the shared authentication policy for realm, backed
// by lookup for credential verification and optionally playAuthz for a
// secondary per-stream authorization check.
func NewConfig(realm string, basic bool, lookup CredentialLookup, playAuthz PlayAuthorizer) *Config {
	return &Config{Realm: realm, Basic: basic, lookup: lookup, playAuthz: playAuthz}
}

// NewSession starts a fresh per-connection Session against this policy.
// Each connection must get its own Session: the nonce it carries is
// mutable state that a shared instance would race on.
func (c *Config) NewSession() *Session {
	return &Session{cfg: c}
}

// Session holds the one nonce issued for an RTSP connection's lifetime.
// A nonce is generated lazily on the first 401 challenge and then reused
// — including across a successful auth — until the connection closes.
// A Session belongs to exactly one connection; it is not shared.
type Session struct {
	cfg   *Config
	nonce string
}

// Challenge builds (generating the session nonce on first use) the
// WWW-Authenticate header value for a 401 response.
func (s *Session) Challenge() (Challenge, error) {
	if s.cfg.Basic {
		return Challenge{Scheme: SchemeBasic, Realm: s.cfg.Realm}, nil
	}
	if s.nonce == "" {
		nonce, err := GenerateNonce()
		if err != nil {
			return Challenge{}, err
		}
		s.nonce = nonce
	}
	return Challenge{Scheme: SchemeDigest, Realm: s.cfg.Realm, Nonce: s.nonce}, nil
}

// Verify checks the Authorization header value of an incoming request
// against this session's realm/nonce and the credential lookup. For
// Digest, the request-URI hashed is the uri= field of the header itself.
func (s *Session) Verify(header string) error {
	creds, err := ParseAuthorization(header)
	if err != nil {
		return err
	}

	switch creds.Scheme {
	case SchemeBasic:
		return s.verifyBasic(creds)
	default:
		return s.verifyDigest(creds)
	}
}

func (s *Session) verifyBasic(creds Credentials) error {
	decoded, err := base64.StdEncoding.DecodeString(creds.BasicPayload)
	if err != nil {
		return fmt.Errorf("malformed basic credentials")
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return fmt.Errorf("malformed basic credentials")
	}
	ha1, ok := s.cfg.lookup(s.cfg.Realm, user)
	if !ok || ha1 != HA1(user, s.cfg.Realm, pass) {
		return fmt.Errorf("password mismatch for user %q", user)
	}
	return nil
}

func (s *Session) verifyDigest(creds Credentials) error {
	if creds.Realm != s.cfg.Realm {
		return fmt.Errorf("realm mismatch: got %q want %q", creds.Realm, s.cfg.Realm)
	}
	if s.nonce == "" || creds.Nonce != s.nonce {
		return fmt.Errorf("nonce mismatch")
	}
	ha1, ok := s.cfg.lookup(s.cfg.Realm, creds.Username)
	if !ok {
		return fmt.Errorf("unknown user %q", creds.Username)
	}
	want := ExpectedResponse(ha1, s.nonce, creds.URI)
	if want != creds.Response {
		return fmt.Errorf("digest response mismatch for user %q", creds.Username)
	}
	return nil
}

// AuthorizePlay applies the secondary PlayAuthorizer hook, if any, after
// credential verification has already succeeded.
func (s *Session) AuthorizePlay(user, uri string) bool {
	if s.cfg.playAuthz == nil {
		return true
	}
	return s.cfg.playAuthz(s.cfg.Realm, user, uri)
}
