// chatrelay consumes the raw chat stream, drops duplicates reported by
// multiple observers within the dedup window, and forwards each unique
// message to the main exchange and the chat table. Dedup keys on the chat
// line's own clock, so replays are deterministic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wiedmann/zlogger/internal/bus"
	"github.com/wiedmann/zlogger/internal/chat"
	"github.com/wiedmann/zlogger/internal/config"
	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/postgres"
)

func main() {
	var (
		configPath = flag.String("c", config.ResolvePath(), "config file")
		busURL     = flag.String("b", "", "AMQP broker URL")
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
	chats := postgres.NewChatStore(pool)

	// The subscription and the forward publishes get separate connections;
	// a Conn belongs to one loop.
	sub, err := bus.Dial(cfg.BusURL)
	if err != nil {
		slog.Error("connect bus", "error", err)
		os.Exit(1)
	}
	defer sub.Close()
	pub, err := bus.Dial(cfg.BusURL)
	if err != nil {
		slog.Error("connect bus", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	deduper := chat.NewDeduper()
	handler := func(_ string, body []byte) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			slog.Warn("undecodable chat message", "error", err)
			return
		}
		at, err := chat.ParseClock(msg.Time)
		if err != nil {
			slog.Warn("bad chat clock", "time", msg.Time, "error", err)
			return
		}
		if !deduper.Observe(at, msg.RiderID, msg.Msg) {
			slog.Debug("duplicate chat dropped", "rider", msg.RiderID)
			return
		}

		if err := pub.Publish(ctx, bus.Exchange, fmt.Sprintf("CHAT.%d", msg.RiderID), body); err != nil {
			slog.Warn("forward chat message", "rider", msg.RiderID, "error", err)
		}
		if err := chats.Insert(ctx, msg.RiderID, msg.Msg); err != nil {
			slog.Warn("store chat message", "rider", msg.RiderID, "error", err)
		}
	}

	slog.Info("relaying chat", "exchange", bus.RawChatExchange)
	if err := sub.Subscribe(ctx, bus.RawChatExchange, []string{"CHAT"}, handler); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("chat subscription failed", "error", err)
		os.Exit(1)
	}
}
