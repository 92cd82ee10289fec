// Command mindgate-server serves the meditation app: identity backend,
// device sessions, guarded pages and the track catalogue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/mindgate/authclient"
	"github.com/MrEthical07/mindgate/catalog"
	"github.com/MrEthical07/mindgate/guard"
	"github.com/MrEthical07/mindgate/internal/config"
	"github.com/MrEthical07/mindgate/internal/httpapi"
	"github.com/MrEthical07/mindgate/internal/observability"
	"github.com/MrEthical07/mindgate/metrics/export/internaldefs"
	otelexport "github.com/MrEthical07/mindgate/metrics/export/otel"
)

const serviceName = "mindgate"

var version = "dev"

func main() {
	flags := pflag.NewFlagSet("mindgate-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	devRedis := flags.Bool("dev-redis", false, "run an in-process Redis instead of dialing redis.addr")
	addr := flags.String("addr", "", "listen address; overrides http.addr")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mindgate-server: %v\n", err)
		os.Exit(1)
	}
	if *devRedis {
		cfg.Redis.Dev = true
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: serviceName,
		Environment: cfg.Environment,
	})
	meters := observability.InitMetrics(observability.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
	})

	// --- Startup order: redis -> database -> engine -> credentials -> HTTP ---

	rdb, stopRedis, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer stopRedis()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := buildEngine(cfg, rdb, db, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	creds := probeCredentials(ctx, cfg, rdb, logger)
	defer creds.Close()

	srv, err := httpapi.New(httpapi.Deps{
		Config: httpapi.Config{
			PublicURL:     cfg.HTTP.PublicURL,
			ReadyTimeout:  cfg.HTTP.ReadyTimeout,
			SecureCookies: cfg.HTTP.SecureCookies,
			Client: authclient.Options{
				PersistSession:  cfg.Client.PersistSession,
				ExpiryMargin:    cfg.Client.ExpiryMargin,
				RefreshMargin:   cfg.Client.RefreshMargin,
				RefreshInterval: cfg.Client.RefreshInterval,
			},
			AutoRefresh:       cfg.Client.AutoRefresh,
			DeviceIdleTimeout: cfg.Devices.IdleTimeout,
			JanitorInterval:   cfg.Devices.JanitorInterval,
			MaxDevices:        cfg.Devices.MaxDevices,
		},
		Engine:  engine,
		Catalog: catalog.NewService(catalog.NewSQLRepository(db)),
		Storage: creds,
		Policy:  guard.DefaultPolicy(),
		Logger:  logger,
		DB:      db,
		Meters:  meters,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	exporter, err := otelexport.NewOTelExporter(meters.Meter(serviceName), engine, internaldefs.Gauge{
		Name:  "mindgate_devices_active",
		Help:  "Devices with a live session holder.",
		Value: srv.DevicesActive,
	})
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("credentials", creds.Kind().String()),
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	// Shutdown is the reverse of startup: HTTP first, then devices, then
	// metrics. Storage, engine, database and Redis close via defers.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		srv.BeginShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		srv.Close()

		if cerr := exporter.Close(); cerr != nil {
			logger.Warn("otel exporter close failed", "error", cerr)
		}
		if merr := meters.Shutdown(shutdownCtx); merr != nil {
			logger.Warn("meter provider shutdown failed", "error", merr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
