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

	"github.com/joho/godotenv"

	"github.com/collabhub/presence-relay/internal/auth"
	"github.com/collabhub/presence-relay/internal/config"
	"github.com/collabhub/presence-relay/internal/gateway"
	"github.com/collabhub/presence-relay/internal/httpserver"
	"github.com/collabhub/presence-relay/internal/metrics"
	"github.com/collabhub/presence-relay/internal/presence"
	"github.com/collabhub/presence-relay/internal/registry"
	"github.com/collabhub/presence-relay/internal/relay"
	"github.com/collabhub/presence-relay/internal/rooms"
	"github.com/collabhub/presence-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

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

	logger.Info("starting presence-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"grace_period", cfg.GracePeriod,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
	)

	logStartupSecurityWarnings(logger, cfg)

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	reg := registry.New()
	rms := rooms.New()

	// The tracker's expiry callback needs the broadcaster, which needs the
	// tracker. The closure resolves the cycle: broadcaster is assigned below,
	// before any connection can arm a grace timer.
	var broadcaster *presence.Broadcaster
	tracker := presence.NewTracker(
		presence.WithGracePeriod(cfg.GracePeriod),
		presence.WithExpiryFunc(func(userID string) {
			logger.Debug("presence grace period expired", "user_id", userID)
			broadcaster.BroadcastSnapshot()
		}),
	)
	broadcaster = presence.NewBroadcaster(tracker, reg, logger, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	gw := gateway.New(cfg, logger, gateway.Deps{
		Registry:    reg,
		Tracker:     tracker,
		Broadcaster: broadcaster,
		Rooms:       rms,
		Relay:       relay.New(reg, rms, logger, m),
		Verifier:    verifier,
		Metrics:     m,
	})
	gw.RegisterRoutes(srv.Mux())

	var turnGen *turnrest.Generator
	if cfg.TURNSecret != "" {
		turnGen, err = turnrest.NewGenerator(cfg.TURNSecret, "relay", cfg.TURNCredentialTTL)
		if err != nil {
			logger.Error("failed to configure turn credentials", "err", err)
			os.Exit(2)
		}
	}
	srv.Mux().Handle("GET /ice-config", turnrest.Handler(logger, cfg.STUNURLs, cfg.TURNURIs, turnGen))

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

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

func resolveBuildInfo(commit, built string) (string, string) {
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
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
