// Package dataplane implements the UDP and TCP data servers of spec §4.5:
// per-peer Counters keyed by address, demultiplexed off a single listening
// socket (UDP) or one handler goroutine per accepted connection (TCP).
package dataplane

import (
	"net"
	"strings"
	"sync"

	"github.com/cambridgegreys/goiperf/internal/counters"
)

// peerKey normalizes addr into the "ip:port" form spec §4.5/§9 mandates,
// trimming any IPv6 zone/scope suffix so link-local peers reachable via
// different zones collapse onto the same visible key (documented quirk).
func peerKey(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		host = host[:idx]
	}
	return net.JoinHostPort(host, port)
}

// peerTable is the sync.RWMutex-guarded map shape generalized from the
// teacher's Engine.vuMu-guarded vus/executors maps (internal/vu/engine.go),
// here keyed by peer address instead of VU id.
type peerTable struct {
	mu    sync.RWMutex
	peers map[string]*counters.Counters
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*counters.Counters)}
}

// getOrCreate returns the existing Counters for key, allocating one and
// reporting created=true on first sight of a peer.
func (t *peerTable) getOrCreate(key string) (c *counters.Counters, created bool) {
	t.mu.RLock()
	c, ok := t.peers[key]
	t.mu.RUnlock()
	if ok {
		return c, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.peers[key]; ok {
		return c, false
	}
	c = counters.New()
	t.peers[key] = c
	return c, true
}

// snapshot returns a stable copy of the peer-key set, used by the result
// collator after the data-plane server has shut down (spec §4.7).
func (t *peerTable) snapshot() map[string]*counters.Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*counters.Counters, len(t.peers))
	for k, v := range t.peers {
		out[k] = v
	}
	return out
}

func (t *peerTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// PeerCounters pairs a normalized peer address with the Counters allocated
// for it, returned by UDPServer.Peers/TCPServer.Peers for the result
// collator (spec §4.7).
type PeerCounters struct {
	addr     string
	counters *counters.Counters
}

// Addr returns the peer's normalized "ip:port" key.
func (p *PeerCounters) Addr() string { return p.addr }

// Snapshot returns the peer's counters snapshot.
func (p *PeerCounters) Snapshot() counters.Snapshot { return p.counters.Snapshot() }
