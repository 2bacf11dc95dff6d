// eventsched keeps the event catalogue and rider profiles current. A cron
// job syncs upcoming events and their start subgroups from the upstream
// platform; a retrieval scheduler then fetches each subgroup's signed-up
// roster at fixed offsets past its start, re-authenticating on session
// expiry and backing off to the next quarter hour when rate limited.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wiedmann/zlogger/internal/config"
	"github.com/wiedmann/zlogger/internal/leader"
	"github.com/wiedmann/zlogger/internal/postgres"
	"github.com/wiedmann/zlogger/internal/scheduler"
	"github.com/wiedmann/zlogger/internal/upstream"
)

func main() {
	var (
		configPath = flag.String("c", config.ResolvePath(), "config file")
		user       = flag.String("u", "", "upstream platform user")
		syncSpec   = flag.String("sync", "", "cron expression for the event catalogue refresh")
		verbose    = flag.Bool("v", false, "debug logging")

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
	if *user != "" {
		cfg.Upstream.User = *user
	}
	if *syncSpec != "" {
		cfg.SyncSchedule = *syncSpec
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = creds.URL()
	}
	if cfg.Upstream.User == "" || cfg.Upstream.Password == "" {
		slog.Error("upstream credentials required (config upstream section or ZLOGGER_UPSTREAM_* env)")
		os.Exit(1)
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

	client := upstream.NewClient(cfg.Upstream.User, cfg.Upstream.Password)
	if err := client.Login(ctx); err != nil {
		slog.Error("upstream login", "error", err)
		os.Exit(1)
	}

	// Only one instance per database may poll the upstream; standbys wait
	// on the advisory lock and take over if the leader dies.
	elector := leader.New(
		func(ctx context.Context) (bool, error) {
			var ok bool
			err := pool.QueryRow(ctx,
				"SELECT pg_try_advisory_lock($1)", leader.LockID).Scan(&ok)
			return ok, err
		},
		leader.RetryInterval,
		func(ctx context.Context) func() {
			sched := scheduler.New(
				postgres.NewEventStore(pool),
				client,
				client,
				postgres.NewRiderStore(pool),
				cfg.SyncSchedule,
			)
			// Populate the catalogue before the first cron tick.
			if err := sched.Sync(ctx); err != nil {
				slog.Error("initial event sync", "error", err)
			}
			if err := sched.Start(ctx); err != nil {
				slog.Error("start scheduler", "error", err)
				return func() {}
			}
			slog.Info("event scheduler running", "sync", cfg.SyncSchedule)
			return sched.Stop
		},
	)
	elector.Start(ctx)

	<-ctx.Done()
	elector.Stop()
	slog.Info("stopped")
}
