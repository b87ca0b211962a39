package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/vidmesh/signaling/internal/config"
	"github.com/vidmesh/signaling/internal/gateway"
	"github.com/vidmesh/signaling/internal/httpserver"
	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/presence"
	"github.com/vidmesh/signaling/internal/room"
	"github.com/vidmesh/signaling/internal/session"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	stun, turn := countICEServers(cfg)
	logger.Info("starting vidmesh-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"room_capacity", cfg.RoomCapacity,
		"max_rooms", cfg.MaxRooms,
		"empty_room_grace", cfg.EmptyRoomGrace,
		"negotiation_timeout", cfg.NegotiationTimeout,
		"outbound_queue_size", cfg.OutboundQueueSize,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"stun_servers", stun,
		"turn_servers", turn,
	)

	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := gateway.NewHub(logger, m)
	sessions := session.NewManager(cfg, logger, m, nil, hub.Deliver)
	rooms := room.NewRegistry(cfg, m, nil)
	coord := presence.NewCoordinator(logger, m, rooms, sessions, hub)
	ws := gateway.NewServer(cfg, logger, m, hub, coord, sessions)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m, ws)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
