package tunnel

import (
	"io"
	"testing"
	"time"
)

func TestForwardWithoutRegisterFails(t *testing.T) {
	b := New()
	if err := b.Forward("cookie-1", []byte("hi")); err == nil {
		t.Fatal("expected forward to a never-registered cookie to fail")
	}
}

func TestRegisterThenForwardDeliversToReader(t *testing.T) {
	b := New()
	conn := b.Register("cookie-1")

	go func() {
		if err := b.Forward("cookie-1", []byte("hello")); err != nil {
			t.Errorf("forward: %v", err)
		}
	}()

	buf := make([]byte, 5)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestConnWriteIsReadableFromOutboundReader(t *testing.T) {
	b := New()
	conn := b.Register("cookie-1")

	go conn.Write([]byte("world"))

	buf := make([]byte, 5)
	n, err := io.ReadFull(conn.outboundReader(), buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestReleaseClosesConn(t *testing.T) {
	b := New()
	conn := b.Register("cookie-1")
	b.Release("cookie-1")

	if _, ok := b.Lookup("cookie-1"); ok {
		t.Fatal("expected cookie to be gone after release")
	}

	done := make(chan error, 1)
	go func() {
		_, err := conn.Read(make([]byte, 1))
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected read on a released conn to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed conn to unblock reader")
	}
}
