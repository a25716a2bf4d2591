package control

import (
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, err = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	return NewConn(client), NewConn(server)
}

func TestSendRecvState(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	if err := client.SendState(ParamExchange); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	got, err := server.RecvState()
	if err != nil {
		t.Fatalf("RecvState: %v", err)
	}
	if got != ParamExchange {
		t.Errorf("RecvState = %v, want %v", got, ParamExchange)
	}
}

func TestTryRecvStateWouldBlock(t *testing.T) {
	_, server := pipeConns(t)
	defer server.Close()

	_, err := server.TryRecvState()
	if err != ErrWouldBlock {
		t.Errorf("TryRecvState error = %v, want ErrWouldBlock", err)
	}
}

func TestTryRecvStateAvailable(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	if err := client.SendState(TestRunning); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	got, err := server.TryRecvState()
	if err != nil {
		t.Fatalf("TryRecvState: %v", err)
	}
	if got != TestRunning {
		t.Errorf("TryRecvState = %v, want %v", got, TestRunning)
	}
}

func TestSendRecvJSONOverConn(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	type params struct {
		TCP      bool `json:"tcp"`
		Parallel int  `json:"parallel"`
	}
	want := params{TCP: true, Parallel: 3}

	if err := client.SendJSON(want); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	var got params
	if err := server.RecvJSON(&got); err != nil {
		t.Fatalf("RecvJSON: %v", err)
	}
	if got != want {
		t.Errorf("RecvJSON = %+v, want %+v", got, want)
	}
}

func TestSendRecvCookie(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	cookie := MakeCookie()
	if err := client.SendCookie(cookie); err != nil {
		t.Fatalf("SendCookie: %v", err)
	}
	got, err := server.RecvCookie()
	if err != nil {
		t.Fatalf("RecvCookie: %v", err)
	}
	if got != cookie {
		t.Errorf("RecvCookie = %v, want %v", got, cookie)
	}
}
