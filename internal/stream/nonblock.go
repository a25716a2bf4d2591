package stream

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// discoverMSS reads TCP_MAXSEG off the control connection's underlying
// socket, used by the client's CREATE_STREAMS handler to size UDP payloads
// (spec §4.6). This is a read-only sockopt query via SyscallConn.Control,
// safe to perform alongside the runtime netpoller since it does not alter
// the fd's blocking mode.
func discoverMSS(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("stream: control conn is not a syscall.Conn")
	}

	rawConn, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("stream: get raw conn: %w", err)
	}

	var mss int
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		mss, sockErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_MAXSEG)
	})
	if err != nil {
		return 0, fmt.Errorf("stream: control raw conn: %w", err)
	}
	if sockErr != nil {
		return 0, fmt.Errorf("stream: getsockopt TCP_MAXSEG: %w", sockErr)
	}
	return mss, nil
}

// DiscoverMSS is the exported form of discoverMSS for the FSM's
// CREATE_STREAMS handler.
func DiscoverMSS(conn net.Conn) (int, error) {
	return discoverMSS(conn)
}
