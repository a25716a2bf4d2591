package stream

import (
	"context"
	"net"
	"testing"
	"time"
)

// udpHandshakeServer performs one server-side UDP connect handshake on ln
// and returns the peer's address.
func udpHandshakeServer(t *testing.T, ln net.PacketConn) net.Addr {
	t.Helper()
	buf := make([]byte, 4)
	n, peer, err := ln.ReadFrom(buf)
	if err != nil || n != 4 {
		t.Fatalf("udp handshake read: n=%d err=%v", n, err)
	}

	var reply [4]byte
	replyWord := UDPConnectReply
	reply[0] = byte(replyWord)
	reply[1] = byte(replyWord >> 8)
	reply[2] = byte(replyWord >> 16)
	reply[3] = byte(replyWord >> 24)
	if _, err := ln.WriteTo(reply[:], peer); err != nil {
		t.Fatalf("udp handshake reply: %v", err)
	}
	return peer
}

func TestConnectUDPHandshake(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Addr, 1)
	go func() { done <- udpHandshakeServer(t, ln) }()

	conn, err := ConnectUDP(ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("ConnectUDP: %v", err)
	}
	defer conn.Close()

	<-done
}

func TestUDPSenderReceiverLoopback(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer serverConn.Close()

	peerCh := make(chan net.Addr, 1)
	go func() { peerCh <- udpHandshakeServer(t, serverConn) }()

	clientConn, err := ConnectUDP(serverConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("ConnectUDP: %v", err)
	}
	defer clientConn.Close()
	<-peerCh

	serverUDPConn := serverConn.(*net.UDPConn)

	sender := NewUDPSender(1, clientConn, 64, false, 300*time.Millisecond, nil, nil, nil)
	receiver := NewUDPReceiver(1, serverUDPConn, 2048, 300*time.Millisecond, nil, nil)

	ctx := context.Background()
	receiver.Start(ctx)
	sender.Start(ctx)

	sender.Wait()
	receiver.Stop()
	receiver.Wait()

	senderResult := sender.Result()
	if senderResult.Bytes <= 0 {
		t.Errorf("sender Bytes = %d, want > 0", senderResult.Bytes)
	}
	if senderResult.Packets != 0 {
		// sender's own Counters never receives anything; packets come
		// from the receiver side.
		t.Errorf("sender Packets = %d, want 0 (sender has no receive-side counters)", senderResult.Packets)
	}

	receiverResult := receiver.Result()
	if receiverResult.Bytes <= 0 {
		t.Errorf("receiver Bytes = %d, want > 0", receiverResult.Bytes)
	}
	if receiverResult.Packets <= 0 {
		t.Errorf("receiver Packets = %d, want > 0", receiverResult.Packets)
	}
}

func TestTCPSenderReceiverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		buf := make([]byte, 37)
		if _, err := readFull(c, buf); err != nil {
			t.Errorf("read cookie: %v", err)
		}
		serverConnCh <- c
	}()

	var cookie [37]byte
	for i := range cookie {
		cookie[i] = 'a'
	}
	clientConn, err := ConnectTCP(ln.Addr().String(), cookie)
	if err != nil {
		t.Fatalf("ConnectTCP: %v", err)
	}
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	sender := NewTCPSender(1, clientConn, 256, 300*time.Millisecond, nil, nil, nil)
	receiver := NewTCPReceiver(1, serverConn, 4096, 300*time.Millisecond, nil, nil)

	ctx := context.Background()
	receiver.Start(ctx)
	sender.Start(ctx)

	sender.Wait()
	receiver.Stop()
	receiver.Wait()

	if sender.Result().Bytes <= 0 {
		t.Errorf("sender Bytes = %d, want > 0", sender.Result().Bytes)
	}
	if receiver.Result().Bytes <= 0 {
		t.Errorf("receiver Bytes = %d, want > 0", receiver.Result().Bytes)
	}
}

func TestShutdownLiveness(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		buf := make([]byte, 37)
		readFull(c, buf)
		serverConnCh <- c
	}()

	var cookie [37]byte
	clientConn, err := ConnectTCP(ln.Addr().String(), cookie)
	if err != nil {
		t.Fatalf("ConnectTCP: %v", err)
	}
	<-serverConnCh

	sender := NewTCPSender(1, clientConn, 64, 10*time.Second, nil, nil, nil)
	sender.Start(context.Background())

	sender.Stop()

	doneCh := make(chan struct{})
	go func() {
		sender.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return within bound after Stop()")
	}

	if _, err := clientConn.Write([]byte("x")); err == nil {
		t.Error("Write after Stop() succeeded, want closed socket error")
	}
}
