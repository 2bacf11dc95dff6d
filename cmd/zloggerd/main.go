// zloggerd is the live ingestion daemon. It tails an observer's zlogger
// log, maps observer-local chalklines to canonical registry ids, publishes
// crossings and telemetry on the bus, and persists everything to postgres.
// A small status API reports health, the chalkline registry and the latest
// crossings. On observer shutdown the log is rotated and, when configured,
// archived to object storage.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wiedmann/zlogger/internal/api"
	"github.com/wiedmann/zlogger/internal/bus"
	"github.com/wiedmann/zlogger/internal/config"
	"github.com/wiedmann/zlogger/internal/ingest"
	"github.com/wiedmann/zlogger/internal/postgres"
	"github.com/wiedmann/zlogger/internal/storage"
	"github.com/wiedmann/zlogger/internal/tailer"
)

func main() {
	var (
		configPath  = flag.String("c", config.ResolvePath(), "config file")
		logFile     = flag.String("f", "", "observer log file to tail")
		listen      = flag.String("l", "", "status API listen address")
		busURL      = flag.String("b", "", "AMQP broker URL (\"none\" disables the bus)")
		stayRunning = flag.Bool("S", false, "keep tailing across observer shutdowns")
		verbose     = flag.Bool("v", false, "debug logging")

		creds postgres.Credentials
	)
	flag.StringVar(&creds.Database, "D", "zlogger", "database name")
	flag.StringVar(&creds.Host, "H", "", "database host")
	flag.StringVar(&creds.User, "U", "", "database user")
	flag.StringVar(&creds.Password, "P", "", "database password")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *busURL != "" {
		cfg.BusURL = *busURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = creds.URL()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	chalklines := postgres.NewChalklineStore(pool)
	positions := postgres.NewPositionStore(pool)

	var publisher bus.Publisher
	if cfg.BusURL != "none" {
		conn, err := bus.Dial(cfg.BusURL)
		if err != nil {
			slog.Error("connect bus", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		publisher = conn
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewServer(chalklines, positions, pool).Router(),
	}
	go func() {
		slog.Info("status API listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status API", "error", err)
		}
	}()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	tail, err := tailer.Open(cfg.LogFile)
	if err != nil {
		slog.Error("open observer log", "error", err)
		os.Exit(1)
	}

	svc := ingest.New(ingest.Config{
		Chalklines:  chalklines,
		Positions:   positions,
		Telemetry:   postgres.NewTelemetryStore(pool),
		Chat:        postgres.NewChatStore(pool),
		Publisher:   publisher,
		StayRunning: *stayRunning,
	})

	slog.Info("ingesting", "log", cfg.LogFile)
	err = svc.Run(ctx, tail)
	_ = tail.Close()

	switch {
	case errors.Is(err, ingest.ErrShutdown):
		archiveLog(cfg)
	case errors.Is(err, context.Canceled):
		slog.Info("interrupted")
	case err != nil:
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

// archiveLog rotates the observer log and uploads the rotated file when an
// archive bucket is configured. Both steps are best effort: the data is
// already persisted, the raw log is for replay.
func archiveLog(cfg *config.Config) {
	rotated, err := ingest.Rotate(cfg.LogFile, time.Now())
	if err != nil {
		slog.Error("rotate observer log", "error", err)
		return
	}
	slog.Info("observer log rotated", "to", rotated)

	if !cfg.Archive.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	arch, err := storage.New(ctx, cfg.Archive)
	if err != nil {
		slog.Error("connect archive", "error", err)
		return
	}
	key, err := arch.Put(ctx, rotated)
	if err != nil {
		slog.Error("archive rotated log", "error", err)
		return
	}
	slog.Info("rotated log archived", "key", key)
}
