// Command goiperf runs either the client or server side of a wire-compatible
// throughput and jitter measurement session (spec §1-§9).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cambridgegreys/goiperf/internal/config"
	"github.com/cambridgegreys/goiperf/internal/control"
	"github.com/cambridgegreys/goiperf/internal/dataplane"
	"github.com/cambridgegreys/goiperf/internal/fsm"
	"github.com/cambridgegreys/goiperf/internal/metrics"
	"github.com/cambridgegreys/goiperf/internal/obs"
	"github.com/cambridgegreys/goiperf/internal/result"
	"github.com/cambridgegreys/goiperf/internal/stream"
)

func main() {
	serverMode := flag.Bool("server", false, "run as server (one-off session)")
	target := flag.String("target", "127.0.0.1", "target host (client mode) or bind address (server mode)")
	configPort := flag.Int("config-port", config.DefaultControlPort, "control channel TCP port")
	dataPort := flag.Int("data-port", config.DefaultDataPort, "data channel TCP/UDP port")
	interval := flag.Float64("interval", config.DefaultInterval, "server schedule TEST_RUNNING interval, seconds")
	compat := flag.Bool("compat", true, "client sends TEST_END from its end timer")
	bitrate := flag.String("bitrate", "", "rate cap, e.g. 1M (bytes/sec after suffix parsing)")
	paramsFile := flag.String("params", "", "JSON params file (client mode)")
	udp := flag.Bool("udp", false, "use UDP data channel (client mode)")
	testTime := flag.Int("time", 10, "test duration in seconds (client mode)")
	parallel := flag.Int("parallel", 1, "number of parallel streams (client mode)")
	length := flag.Int("len", config.DefaultTCPLen, "payload length in bytes (client mode)")
	reverse := flag.Bool("reverse", false, "reverse mode: server sends, client receives (client mode)")
	metricsAddr := flag.String("metrics-addr", "", "optional Prometheus /metrics listen address")
	flag.Parse()

	logger := obs.NewEventLogger(sessionID(), role(*serverMode))
	tracer, err := obs.NewTracer(obs.DefaultTracerConfig())
	if err != nil {
		fatal(logger, "create tracer", err)
	}
	defer tracer.Shutdown(context.Background())

	if *metricsAddr != "" {
		ms := metrics.NewServer(*metricsAddr)
		go func() {
			if err := ms.Start(context.Background()); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
		defer ms.Shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg := config.Config{
		Target:     *target,
		ConfigPort: *configPort,
		DataPort:   *dataPort,
		Interval:   *interval,
		Compat:     *compat,
	}
	if *bitrate != "" {
		b, err := config.ParseBandwidth(*bitrate)
		if err != nil {
			fatal(logger, "parse bitrate", err)
		}
		cfg.Bitrate = b
	}

	if *serverMode {
		runServer(ctx, cfg, logger, tracer)
		return
	}

	params := config.Params{
		TCP:      !*udp,
		UDP:      *udp,
		Time:     *testTime,
		Parallel: *parallel,
		Len:      *length,
		Reverse:  *reverse,
	}
	if *paramsFile != "" {
		loaded, err := config.LoadParams(*paramsFile)
		if err != nil {
			fatal(logger, "load params", err)
		}
		params = *loaded
	}

	runClient(ctx, cfg, params, logger, tracer)
}

func role(server bool) string {
	if server {
		return "server"
	}
	return "client"
}

func sessionID() string {
	return fmt.Sprintf("goiperf-%d", time.Now().UnixNano())
}

func fatal(logger *obs.EventLogger, op string, err error) {
	logger.LogTransportError(op, err)
	fmt.Fprintf(os.Stderr, "goiperf: %s: %v\n", op, err)
	os.Exit(1)
}

// runClient connects the control channel, runs the stream-worker CREATE_STREAMS
// handshake, and drives the client FSM to completion (spec §4.2, §4.4, §4.6).
func runClient(ctx context.Context, cfg config.Config, params config.Params, logger *obs.EventLogger, tracer *obs.Tracer) {
	controlAddr := net.JoinHostPort(cfg.Target, fmt.Sprintf("%d", cfg.ConfigPort))
	rawConn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		fatal(logger, "dial control channel", err)
	}
	defer rawConn.Close()

	cookie := control.MakeCookie()
	conn := control.NewConn(rawConn)
	if err := conn.SendCookie(cookie); err != nil {
		fatal(logger, "send cookie", err)
	}

	dataAddr := net.JoinHostPort(cfg.Target, fmt.Sprintf("%d", cfg.DataPort))

	var rl *stream.RateLimiter
	if cfg.Bitrate > 0 {
		rl = stream.NewRateLimiter(cfg.Bitrate)
	}

	connectStream := func(id int) (stream.Worker, error) {
		duration := time.Duration(params.Time) * time.Second
		if params.UDP {
			sc, err := stream.ConnectUDP(dataAddr)
			if err != nil {
				return nil, err
			}
			if params.Reverse {
				return stream.NewUDPReceiver(id, sc, params.MaxPacketSize(), duration, logger, tracer), nil
			}
			return stream.NewUDPSender(id, sc, params.MaxPacketSize(), params.UDPCounters64, duration, rl, logger, tracer), nil
		}
		sc, err := stream.ConnectTCP(dataAddr, cookie)
		if err != nil {
			return nil, err
		}
		if params.Reverse {
			return stream.NewTCPReceiver(id, sc, params.MaxPacketSize(), duration, logger, tracer), nil
		}
		return stream.NewTCPSender(id, sc, params.MaxPacketSize(), duration, rl, logger, tracer), nil
	}

	discoverMSS := func() (int, error) {
		return stream.DiscoverMSS(rawConn)
	}

	deps := fsm.ClientDeps{Connect: connectStream, DiscoverMSS: discoverMSS}
	client := fsm.NewClient(ctx, conn, &params, deps, logger, tracer, cfg.Compat)

	if err := client.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "goiperf: session ended with error: %v\n", err)
	}

	if report, ok := client.LocalReport(); ok {
		printReport("local", report)
	}
	if report, ok := client.PeerReport(); ok {
		printReport("peer", report)
	}
}

// runServer accepts one control connection, reads the cookie, and drives
// the server FSM for one session (spec §6 "one-off mode").
func runServer(ctx context.Context, cfg config.Config, logger *obs.EventLogger, tracer *obs.Tracer) {
	controlAddr := net.JoinHostPort(cfg.Target, fmt.Sprintf("%d", cfg.ConfigPort))
	ln, err := net.Listen("tcp", controlAddr)
	if err != nil {
		fatal(logger, "listen control channel", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	var rawConn net.Conn
	select {
	case rawConn = <-acceptCh:
	case err := <-errCh:
		fatal(logger, "accept control channel", err)
	case <-ctx.Done():
		return
	}
	defer rawConn.Close()

	conn := control.NewConn(rawConn)
	if _, err := conn.RecvCookie(); err != nil {
		fatal(logger, "recv cookie", err)
	}

	var rl *stream.RateLimiter
	if cfg.Bitrate > 0 {
		rl = stream.NewRateLimiter(cfg.Bitrate)
	}

	startDataplane := func(p *config.Params) (result.PeerReporter, func(), error) {
		bufSize := p.MaxPacketSize()
		if bufSize <= 0 {
			bufSize = config.DefaultTCPLen
		}
		dataAddr := net.JoinHostPort(cfg.Target, fmt.Sprintf("%d", cfg.DataPort))
		duration := time.Duration(p.Time) * time.Second

		if p.UDP {
			if p.Reverse {
				srv, err := dataplane.NewUDPSenderServer(dataAddr, bufSize, p.UDPCounters64, duration, rl, logger, tracer)
				if err != nil {
					return nil, nil, err
				}
				go srv.Serve(ctx)
				return srv, srv.Stop, nil
			}
			srv, err := dataplane.NewUDPServer(dataAddr, bufSize, p.UDPCounters64, logger)
			if err != nil {
				return nil, nil, err
			}
			go srv.Serve(ctx)
			return srv, srv.Stop, nil
		}

		if p.Reverse {
			srv, err := dataplane.NewTCPSenderServer(ctx, dataAddr, bufSize, duration, rl, logger, tracer)
			if err != nil {
				return nil, nil, err
			}
			go srv.Serve()
			return srv, srv.Stop, nil
		}

		srv, err := dataplane.NewTCPServer(dataAddr, bufSize, logger)
		if err != nil {
			return nil, nil, err
		}
		go srv.Serve()
		return srv, srv.Stop, nil
	}

	deps := fsm.ServerDeps{StartDataplane: startDataplane}
	server := fsm.NewServer(conn, deps, logger, tracer)

	if err := server.Run(cfg.Interval); err != nil {
		fmt.Fprintf(os.Stderr, "goiperf: session ended with error: %v\n", err)
	}

	printReport("local", server.LocalReport())
	if peer, ok := server.PeerResult(); ok {
		printReport("peer", peer)
	}
}

func printReport(label string, r any) {
	fmt.Printf("--- %s results ---\n", label)
	fmt.Printf("%+v\n", r)
}
