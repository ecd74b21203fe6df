package rtspauth

import (
	"encoding/base64"
	"fmt"
	"testing"
)

func lookupFor(user, realm, pass string) CredentialLookup {
	ha1 := HA1(user, realm, pass)
	return func(r, u string) (string, bool) {
		if r == realm && u == user {
			return ha1, true
		}
		return "", false
	}
}

func TestDigestChallengeThenVerifySucceeds(t *testing.T) {
	s := NewConfig("rtsp-engine", false, lookupFor("alice", "rtsp-engine", "secret"), nil).NewSession()

	challenge, err := s.Challenge()
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if challenge.Scheme != SchemeDigest || challenge.Nonce == "" {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}

	uri := "rtsp://example.com/live/cam1"
	ha1 := HA1("alice", "rtsp-engine", "secret")
	response := ExpectedResponse(ha1, challenge.Nonce, uri)
	header := fmt.Sprintf(`Digest username="alice", realm="rtsp-engine", nonce="%s", uri="%s", response="%s"`, challenge.Nonce, uri, response)

	if err := s.Verify(header); err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
}

func TestDigestNonceSurvivesSuccessfulAuth(t *testing.T) {
	s := NewConfig("rtsp-engine", false, lookupFor("alice", "rtsp-engine", "secret"), nil).NewSession()
	challenge, _ := s.Challenge()

	uri := "rtsp://example.com/live/cam1"
	ha1 := HA1("alice", "rtsp-engine", "secret")
	response := ExpectedResponse(ha1, challenge.Nonce, uri)
	header := fmt.Sprintf(`Digest username="alice", realm="rtsp-engine", nonce="%s", uri="%s", response="%s"`, challenge.Nonce, uri, response)
	if err := s.Verify(header); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// the same nonce must still work for a later request on the session.
	uri2 := "rtsp://example.com/live/cam1/track1"
	response2 := ExpectedResponse(ha1, challenge.Nonce, uri2)
	header2 := fmt.Sprintf(`Digest username="alice", realm="rtsp-engine", nonce="%s", uri="%s", response="%s"`, challenge.Nonce, uri2, response2)
	if err := s.Verify(header2); err != nil {
		t.Fatalf("expected nonce reuse to succeed, got %v", err)
	}
}

func TestDigestWrongPasswordFails(t *testing.T) {
	s := NewConfig("rtsp-engine", false, lookupFor("alice", "rtsp-engine", "secret"), nil).NewSession()
	challenge, _ := s.Challenge()

	uri := "rtsp://example.com/live/cam1"
	wrongHA1 := HA1("alice", "rtsp-engine", "wrong")
	response := ExpectedResponse(wrongHA1, challenge.Nonce, uri)
	header := fmt.Sprintf(`Digest username="alice", realm="rtsp-engine", nonce="%s", uri="%s", response="%s"`, challenge.Nonce, uri, response)

	if err := s.Verify(header); err == nil {
		t.Fatal("expected verify to fail for wrong password")
	}
}

func TestBasicVerifySucceeds(t *testing.T) {
	s := NewConfig("rtsp-engine", true, lookupFor("bob", "rtsp-engine", "hunter2"), nil).NewSession()
	payload := base64.StdEncoding.EncodeToString([]byte("bob:hunter2"))
	header := "Basic " + payload

	if err := s.Verify(header); err != nil {
		t.Fatalf("expected basic verify to succeed, got %v", err)
	}
}

func TestPlayAuthorizerGatesAfterCredentials(t *testing.T) {
	s := NewConfig("rtsp-engine", true, lookupFor("bob", "rtsp-engine", "hunter2"),
		func(realm, user, uri string) bool { return user == "bob" && uri == "/allowed" }).NewSession()

	if !s.AuthorizePlay("bob", "/allowed") {
		t.Fatal("expected bob to be authorized for /allowed")
	}
	if s.AuthorizePlay("bob", "/forbidden") {
		t.Fatal("expected bob to be denied for /forbidden")
	}
}

func TestNonceMismatchFails(t *testing.T) {
	s := NewConfig("rtsp-engine", false, lookupFor("alice", "rtsp-engine", "secret"), nil).NewSession()
	s.Challenge()

	ha1 := HA1("alice", "rtsp-engine", "secret")
	response := ExpectedResponse(ha1, "stale-nonce", "rtsp://x/y")
	header := fmt.Sprintf(`Digest username="alice", realm="rtsp-engine", nonce="stale-nonce", uri="rtsp://x/y", response="%s"`, response)

	if err := s.Verify(header); err == nil {
		t.Fatal("expected verify to fail for a replayed/stale nonce")
	}
}
