// streamview connects to the Parsec stream and prints live events to the
// console. Usage: go run ./cmd/streamview --market polymarket:0x123 --outcome Yes
//
// Required environment variables:
//
//	PARSEC_API_KEY - Your Parsec API key
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parsec-api/parsec-go/stream"
)

func main() {
	url := flag.String("url", "wss://stream.parsec.fi/v1/ws", "stream endpoint")
	markets := flag.String("market", "", "comma-separated parsec ids to watch")
	outcome := flag.String("outcome", "Yes", "outcome to watch")
	depth := flag.Int("depth", 0, "book depth (0 = server default)")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	apiKey := os.Getenv("PARSEC_API_KEY")
	if apiKey == "" {
		logger.Error("PARSEC_API_KEY is not set")
		os.Exit(1)
	}
	if *markets == "" {
		logger.Error("--market is required")
		os.Exit(1)
	}

	cfg := stream.DefaultConfig()
	cfg.URL = *url
	cfg.APIKey = apiKey

	handlers := stream.Handlers{
		OnConnected: func() {
			logger.Info("connected")
		},
		OnOrderbook: func(book stream.Orderbook) {
			printBook(book)
		},
		OnActivity: func(ev stream.Activity) {
			fmt.Printf("%s  %-6s %s %s  price=%.3f size=%.0f\n",
				ev.ReceivedAt.Format("15:04:05.000"), ev.Kind, ev.ParsecID, ev.Outcome, ev.Price, ev.Size)
		},
		OnError: func(err stream.ServerError) {
			logger.Warn("server error", "code", err.Code, "message", err.Message)
		},
		OnDisconnected: func(reason string) {
			logger.Warn("disconnected", "reason", reason)
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		},
		OnSlowReader: func(parsecID, outcome string) {
			logger.Warn("falling behind, server may drop messages", "parsec_id", parsecID, "outcome", outcome)
		},
	}

	client := stream.New(cfg, handlers, logger)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
		client.Close()
	}()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	var subs []stream.Subscription
	for _, id := range strings.Split(*markets, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		subs = append(subs, stream.Subscription{
			ParsecID: id,
			Outcome:  *outcome,
			Depth:    *depth,
		})
	}
	if err := client.Subscribe(subs...); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	<-client.Done()
}

func printBook(book stream.Orderbook) {
	bid, bidOK := book.BestBid()
	ask, askOK := book.BestAsk()

	line := fmt.Sprintf("%s  %-8s %s %s seq=%d",
		book.ReceivedAt.Format("15:04:05.000"), book.Kind, book.ParsecID, book.Outcome, book.ServerSeq)
	if bidOK {
		line += fmt.Sprintf("  bid=%.3f(%.0f)", bid.Price, bid.Size)
	}
	if askOK {
		line += fmt.Sprintf("  ask=%.3f(%.0f)", ask.Price, ask.Size)
	}
	if bidOK && askOK {
		line += fmt.Sprintf("  mid=%.4f spread=%.4f", book.MidPrice, book.Spread)
	}
	fmt.Println(line)
}
