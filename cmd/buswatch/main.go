// buswatch is a debug subscriber: it binds the given routing-key patterns
// on an exchange and prints every delivery. Useful for watching a race's
// POS/TELE/CHAT stream live without touching the database.
//
//	buswatch 'POS.*.*'
//	buswatch -e zlogger.raw_chat CHAT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wiedmann/zlogger/internal/bus"
	"github.com/wiedmann/zlogger/internal/config"
)

func main() {
	var (
		configPath = flag.String("c", config.ResolvePath(), "config file")
		busURL     = flag.String("b", "", "AMQP broker URL")
		exchange   = flag.String("e", bus.Exchange, "exchange to watch")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *busURL != "" {
		cfg.BusURL = *busURL
	}

	patterns := flag.Args()
	if len(patterns) == 0 {
		patterns = []string{"#"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := bus.Dial(cfg.BusURL)
	if err != nil {
		slog.Error("connect bus", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	err = conn.Subscribe(ctx, *exchange, patterns, func(key string, body []byte) {
		fmt.Printf("%s %s\n", key, body)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("subscription failed", "error", err)
		os.Exit(1)
	}
}
