package transport

import (
	"bytes"
	"net"
	"sync"
	"testing"
)

func TestInterleavedRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	var mu sync.Mutex
	sender := NewInterleaved(server, &mu, 0, 1)

	payload := []byte{0x80, 0x60, 0x00, 0x01, 0xAA, 0xBB, 0xCC}
	done := make(chan error, 1)
	go func() { done <- sender.SendRTP(payload) }()

	magic := make([]byte, 1)
	if _, err := client.Read(magic); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	if magic[0] != '$' {
		t.Fatalf("expected magic byte '$', got %q", magic[0])
	}

	hdr, err := ReadFrameHeader(client)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if hdr.Channel != 0 {
		t.Fatalf("expected channel 0, got %d", hdr.Channel)
	}
	if int(hdr.Length) != len(payload) {
		t.Fatalf("expected length %d, got %d", len(payload), hdr.Length)
	}

	got, err := ReadFramePayload(client, hdr)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %v want %v", got, payload)
	}

	if err := <-done; err != nil {
		t.Fatalf("SendRTP returned error: %v", err)
	}
}

func TestInterleavedRTCPUsesRTCPChannel(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	var mu sync.Mutex
	sender := NewInterleaved(server, &mu, 4, 5)

	go sender.SendRTCP([]byte{1, 2, 3})

	magic := make([]byte, 1)
	client.Read(magic)
	hdr, err := ReadFrameHeader(client)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if hdr.Channel != 5 {
		t.Fatalf("expected rtcp channel 5, got %d", hdr.Channel)
	}
}
