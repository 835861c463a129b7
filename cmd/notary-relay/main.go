package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"notary-relay/internal/client"
	"notary-relay/internal/config"
	"notary-relay/internal/controller"
	"notary-relay/internal/events"
	"notary-relay/internal/handler"
	"notary-relay/internal/metrics"
	"notary-relay/internal/middleware"
	"notary-relay/internal/nativemsg"
	"notary-relay/internal/relay"
	"notary-relay/internal/status"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("notary-relay"),
		kong.Description("Relays banking transactions from the browser to a native TLS notary prover."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewBankClient,
			events.NewBus,
			status.NewBoard,
			newConnector,
			newRelay,
			newController,
			newNotaryHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startController, closeRelay, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Bank requests are bounded by the client timeout; the native session
	// outlives the HTTP request that started it.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Bank.TimeoutSeconds+15) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	if cfg.Native.Origin != "" {
		e.Use(middleware.OriginGuard(cfg.Native.Origin))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newConnector(cfg *config.Config, logger *slog.Logger) nativemsg.Connector {
	return nativemsg.NewProcessConnector(cfg, logger)
}

func newRelay(cfg *config.Config, conn nativemsg.Connector, bus *events.Bus, logger *slog.Logger, m *metrics.Metrics) *relay.Relay {
	return relay.New(cfg, conn, bus, logger, m)
}

func newController(cfg *config.Config, bank *client.BankClient, r *relay.Relay, board *status.Board, logger *slog.Logger, m *metrics.Metrics) *controller.Controller {
	return controller.New(cfg, bank, r, board, logger, m)
}

func newNotaryHandler(c *controller.Controller, r *relay.Relay, logger *slog.Logger) *handler.NotaryHandler {
	return handler.NewNotaryHandler(c, r, logger)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startController(lc fx.Lifecycle, c *controller.Controller, bus *events.Bus) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Start(bus)
			return nil
		},
		OnStop: func(_ context.Context) error {
			c.Stop()
			return nil
		},
	})
}

func closeRelay(lc fx.Lifecycle, r *relay.Relay, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("closing native sessions")
			return r.Close()
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"native_host", cfg.Native.HostName,
				"verifier", cfg.Prover.VerifierAddress,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
