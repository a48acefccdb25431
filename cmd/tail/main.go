// tail subscribes to topics on one stream and prints decoded payloads.
// Usage:
//
//	go run ./cmd/tail --config configs/memestream.local.yaml price:PEPE trades:0x6982508145454ce325ddbe47a25d4ec3d2311933
//	go run ./cmd/tail --url wss://feed.example.com/ws --codec keyed price:WIF
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/memestream/internal/config"
	"github.com/rickgao/memestream/internal/mux"
	"github.com/rickgao/memestream/internal/topic"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	streamName := flag.String("stream", "", "stream to use (default: first configured)")
	url := flag.String("url", "", "feed URL, used instead of --config")
	codecName := flag.String("codec", config.DefaultCodec, "wire protocol when using --url")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: tail [flags] kind:id [kind:id ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	topics := make([]topic.Topic, 0, flag.NArg())
	for _, arg := range flag.Args() {
		t, err := topic.ParseKey(arg)
		if err != nil {
			logger.Error("invalid topic", "arg", arg, "error", err)
			os.Exit(2)
		}
		topics = append(topics, t)
	}

	sc, err := resolveStream(*configPath, *streamName, *url, *codecName)
	if err != nil {
		logger.Error("failed to resolve stream", "error", err)
		os.Exit(1)
	}

	m, err := mux.NewFromStream(sc, logger)
	if err != nil {
		logger.Error("failed to create multiplexer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	for _, t := range topics {
		if _, err := m.Subscribe(t, printer(t, *verbose)); err != nil {
			logger.Error("subscribe failed", "topic", t, "error", err)
			os.Exit(1)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := m.Stats()
				logger.Info("stats",
					"state", st.Connection.State,
					"topics", st.ActiveTopics,
					"received", st.Connection.FramesReceived,
					"dispatched", st.FramesDispatched,
					"decode_errors", st.DecodeErrors,
					"reconnects", st.Connection.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "stream", sc.Name, "topics", len(topics))

	select {
	case <-ctx.Done():
	case err := <-m.Failures():
		logger.Error("stream failed", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := m.Close(shutdownCtx); err != nil {
		logger.Warn("close timed out", "error", err)
	}
	logger.Info("shutdown complete")
}

// resolveStream picks the stream from the config file, or builds one from
// --url when no config is given.
func resolveStream(configPath, name, url, codecName string) (config.StreamConfig, error) {
	if configPath == "" {
		if url == "" {
			return config.StreamConfig{}, fmt.Errorf("one of --config or --url is required")
		}
		sc := config.StreamConfig{Name: "tail", URL: url, Codec: codecName}
		config.ApplyStreamDefaults(&sc)
		return sc, nil
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return config.StreamConfig{}, err
	}
	if name == "" {
		return cfg.Streams[0], nil
	}
	sc, ok := cfg.Stream(name)
	if !ok {
		return config.StreamConfig{}, fmt.Errorf("stream %q not configured", name)
	}
	return sc, nil
}

func printer(t topic.Topic, verbose bool) func(topic.Payload) {
	return func(p topic.Payload) {
		if verbose {
			data, _ := json.MarshalIndent(p, "", "  ")
			fmt.Printf("[%s] %s\n", t, data)
			return
		}

		switch v := p.(type) {
		case topic.PricePayload:
			fmt.Printf("[PRICE] token=%s price=%s mcap=%s change=%s\n",
				v.Token, v.PriceUSD, v.MarketCap, v.Change24h)
		case topic.TradePayload:
			fmt.Printf("[TRADE] token=%s tx=%s side=%s amount=%s quote=%s price=%s\n",
				v.Token, v.TxHash, v.Side, v.AmountToken, v.AmountQuote, v.PriceUSD)
		}
	}
}
