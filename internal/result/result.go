// Package result implements the collator of spec §4.7: it gathers
// per-stream terminal results under each worker's own mutex, snapshots
// process CPU-time deltas, and builds the JSON report exchanged at
// EXCHANGE_RESULTS.
package result

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cambridgegreys/goiperf/internal/dataplane"
	"github.com/cambridgegreys/goiperf/internal/stream"
)

// CPUSnapshot captures process CPU time at a point in time, the direct
// analogue of the reference's psutil.Process().cpu_times() sample taken
// at TEST_START (spec §4.6, §4.7).
type CPUSnapshot struct {
	User   float64
	System float64
	Total  float64
}

// SnapshotCPU reads the current process's CPU times via
// github.com/shirou/gopsutil/v3/process, the library the teacher already
// vendors for host/process metrics (cmd/agent/main.go), generalized here
// from periodic sampling to a one-shot snapshot.
func SnapshotCPU() (CPUSnapshot, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return CPUSnapshot{}, err
	}
	times, err := proc.Times()
	if err != nil {
		return CPUSnapshot{}, err
	}
	return CPUSnapshot{
		User:   times.User,
		System: times.System,
		Total:  times.Total(),
	}, nil
}

// CPUUsage is the delta between two CPUSnapshots, flattened at the top
// level of Report to match the reference's EXCHANGE_RESULTS wire format
// (_examples/original_source/iperf_control.py:125-127).
type CPUUsage struct {
	CPUUtilSystem float64 `json:"cpu_util_system"`
	CPUUtilUser   float64 `json:"cpu_util_user"`
	CPUUtilTotal  float64 `json:"cpu_util_total"`
}

func deltaCPU(start, now CPUSnapshot) CPUUsage {
	return CPUUsage{
		CPUUtilSystem: now.System - start.System,
		CPUUtilUser:   now.User - start.User,
		CPUUtilTotal:  now.Total - start.Total,
	}
}

// Report is the JSON object exchanged at EXCHANGE_RESULTS (spec §4.7).
// CPUUsage is embedded rather than nested so its fields marshal at the
// top level, matching the reference.
type Report struct {
	Streams []stream.Result `json:"streams"`
	CPUUsage
	SenderHasRetransmits int `json:"sender_has_retransmits"`
}

// Collate builds a Report from the terminal results of the local stream
// workers and a CPU snapshot delta. Calling Result() on each worker blocks
// until that worker's run loop has released its terminal-result mutex, so
// every entry here is a complete snapshot (spec §5).
func Collate(workers []stream.Worker, startCPU CPUSnapshot) (Report, error) {
	nowCPU, err := SnapshotCPU()
	if err != nil {
		return Report{}, err
	}

	streams := make([]stream.Result, 0, len(workers))
	for _, w := range workers {
		streams = append(streams, w.Result())
	}

	return Report{
		Streams:              streams,
		CPUUsage:             deltaCPU(startCPU, nowCPU),
		SenderHasRetransmits: 0,
	}, nil
}

// PeerReporter is implemented by dataplane.UDPServer and
// dataplane.TCPServer: in receive mode, a map of normalized peer address
// to its Counters snapshot; in reverse mode (spec §9), the sender
// workers driving each accepted peer directly.
type PeerReporter interface {
	Peers() map[string]*dataplane.PeerCounters
	Senders() []stream.Worker
}

// CollateFromPeers builds a server-side Report: the local stream worker
// results, if any, plus either one synthetic stream entry per data-plane
// peer Counters (receive mode), numbered with the same quirked id sequence
// as client-side streams, or each reverse-mode sender's own terminal
// Result, which keeps the id the data-plane server assigned it in accept
// order (1, 2, 3, ...) (spec §4.7, §9).
func CollateFromPeers(workers []stream.Worker, srv PeerReporter, startCPU CPUSnapshot, startTime time.Time) (Report, error) {
	report, err := Collate(workers, startCPU)
	if err != nil {
		return Report{}, err
	}
	if srv == nil {
		return report, nil
	}

	if senders := srv.Senders(); len(senders) > 0 {
		senderReport, err := Collate(senders, startCPU)
		if err != nil {
			return report, nil
		}
		report.Streams = append(report.Streams, senderReport.Streams...)
		return report, nil
	}

	peers := srv.Peers()
	ids := stream.StreamIDs(len(peers))
	endTime := time.Since(startTime).Seconds()

	i := 0
	for _, p := range peers {
		snap := p.Snapshot()
		report.Streams = append(report.Streams, stream.Result{
			StreamID:  ids[i],
			Bytes:     snap.BytesReceived,
			Jitter:    snap.Jitter,
			Errors:    snap.CntError,
			Packets:   snap.PacketCount,
			StartTime: 0,
			EndTime:   endTime,
		})
		i++
	}

	return report, nil
}
