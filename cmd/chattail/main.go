// chattail follows an observer's chat log and publishes every parsed chat
// line raw on the zlogger.raw_chat exchange. Deduplication across observers
// happens downstream in chatrelay; this daemon only tails and parses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wiedmann/zlogger/internal/bus"
	"github.com/wiedmann/zlogger/internal/chat"
	"github.com/wiedmann/zlogger/internal/config"
	"github.com/wiedmann/zlogger/internal/tailer"
)

func main() {
	var (
		configPath = flag.String("c", config.ResolvePath(), "config file")
		chatLog    = flag.String("f", "", "observer chat log to tail")
		busURL     = flag.String("b", "", "AMQP broker URL")
		verbose    = flag.Bool("v", false, "debug logging")
	)
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
	if *chatLog != "" {
		cfg.ChatLog = *chatLog
	}
	if *busURL != "" {
		cfg.BusURL = *busURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := bus.Dial(cfg.BusURL)
	if err != nil {
		slog.Error("connect bus", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	tail, err := tailer.Open(cfg.ChatLog)
	if err != nil {
		slog.Error("open chat log", "error", err)
		os.Exit(1)
	}
	defer tail.Close()

	slog.Info("tailing chat log", "log", cfg.ChatLog)
	for {
		line, err := tail.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("read chat log", "error", err)
			os.Exit(1)
		}

		msg, ok := chat.ParseLogLine(line)
		if !ok {
			slog.Debug("unparsed chat line", "line", line)
			continue
		}
		body, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("encode chat message", "error", err)
			continue
		}
		if err := conn.Publish(ctx, bus.RawChatExchange, "CHAT", body); err != nil {
			slog.Warn("publish chat message", "rider", msg.RiderID, "error", err)
		}
	}
}
