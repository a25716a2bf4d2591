package dataplane

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cambridgegreys/goiperf/internal/stream"
	"github.com/cambridgegreys/goiperf/internal/wire"
)

func TestPeerKeyTrimsIPv6Zone(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 5201, Zone: "eth0"}
	got := peerKey(addr)
	want := net.JoinHostPort("fe80::1", "5201")
	if got != want {
		t.Errorf("peerKey = %q, want %q", got, want)
	}
}

func TestUDPServerHandshakeAndAccounting(t *testing.T) {
	srv, err := NewUDPServer("127.0.0.1:0", 2048, false, nil)
	if err != nil {
		t.Fatalf("NewUDPServer: %v", err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var msg [4]byte
	binary.NativeEndian.PutUint32(msg[:], stream.UDPConnectMsg)
	if _, err := conn.Write(msg[:]); err != nil {
		t.Fatalf("write connect msg: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply [4]byte
	if _, err := conn.Read(reply[:]); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if got := binary.NativeEndian.Uint32(reply[:]); got != stream.UDPConnectReply {
		t.Errorf("connect reply = %#x, want %#x", got, stream.UDPConnectReply)
	}

	buf := make([]byte, wire.Header32Size)
	hdr := wire.Header{Sec: 1, Usec: 0, PacketCount: 1}
	hdr.Encode32(buf)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write packet: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if srv.BytesReceived() <= 0 {
		t.Errorf("BytesReceived = %d, want > 0", srv.BytesReceived())
	}
	peers := srv.Peers()
	if len(peers) != 1 {
		t.Fatalf("len(Peers()) = %d, want 1", len(peers))
	}
	for _, p := range peers {
		if p.Snapshot().PacketCount != 1 {
			t.Errorf("peer PacketCount = %d, want 1", p.Snapshot().PacketCount)
		}
	}
}

func TestTCPServerCookieAndAccumulate(t *testing.T) {
	srv, err := NewTCPServer("127.0.0.1:0", 4096, nil)
	if err != nil {
		t.Fatalf("NewTCPServer: %v", err)
	}
	go srv.Serve()
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	cookie := make([]byte, 37)
	for i := range cookie {
		cookie[i] = 'a'
	}
	if _, err := conn.Write(cookie); err != nil {
		t.Fatalf("write cookie: %v", err)
	}

	payload := make([]byte, 256)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if srv.BytesReceived() < int64(len(payload)) {
		t.Errorf("BytesReceived = %d, want >= %d", srv.BytesReceived(), len(payload))
	}
	if len(srv.Peers()) != 1 {
		t.Errorf("len(Peers()) = %d, want 1", len(srv.Peers()))
	}
}

func TestTCPSenderServerReverseMode(t *testing.T) {
	srv, err := NewTCPSenderServer(context.Background(), "127.0.0.1:0", 256, 2*time.Second, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewTCPSenderServer: %v", err)
	}
	go srv.Serve()
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	cookie := make([]byte, 37)
	for i := range cookie {
		cookie[i] = 'a'
	}
	if _, err := conn.Write(cookie); err != nil {
		t.Fatalf("write cookie: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read from reverse sender: %v", err)
	}
	if n == 0 {
		t.Errorf("read 0 bytes from reverse sender, want > 0")
	}

	time.Sleep(50 * time.Millisecond)
	senders := srv.Senders()
	if len(senders) != 1 {
		t.Fatalf("len(Senders()) = %d, want 1", len(senders))
	}
	if senders[0].Role() != stream.RoleSender {
		t.Errorf("sender Role() = %q, want %q", senders[0].Role(), stream.RoleSender)
	}
}

func TestUDPSenderServerReverseMode(t *testing.T) {
	srv, err := NewUDPSenderServer("127.0.0.1:0", 64, false, 2*time.Second, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewUDPSenderServer: %v", err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var msg [4]byte
	binary.NativeEndian.PutUint32(msg[:], stream.UDPConnectMsg)
	if _, err := conn.Write(msg[:]); err != nil {
		t.Fatalf("write connect msg: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply [4]byte
	if _, err := conn.Read(reply[:]); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read datagram from reverse sender: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if len(srv.Senders()) != 1 {
		t.Fatalf("len(Senders()) = %d, want 1", len(srv.Senders()))
	}
}
