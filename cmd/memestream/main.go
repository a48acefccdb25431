// memestream runs the live feed multiplexers, the optional TimescaleDB
// recorder and the health server.
// Usage: go run ./cmd/memestream --config configs/memestream.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/memestream/internal/config"
	"github.com/rickgao/memestream/internal/database"
	"github.com/rickgao/memestream/internal/health"
	"github.com/rickgao/memestream/internal/mux"
	"github.com/rickgao/memestream/internal/recorder"
	"github.com/rickgao/memestream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/memestream.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("memestream failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	logger = logger.With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting memestream",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"streams", len(cfg.Streams),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Create one multiplexer per stream
	streams := make([]*mux.Multiplexer, 0, len(cfg.Streams))
	byName := make(map[string]*mux.Multiplexer, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		m, err := mux.NewFromStream(sc, logger)
		if err != nil {
			return err
		}
		streams = append(streams, m)
		byName[sc.Name] = m
		logger.Info("stream configured", "stream", sc.Name, "url", sc.URL, "codec", sc.Codec)
	}
	defer closeStreams(streams, logger)

	// Connect to database and start the recorder
	var (
		pool *pgxpool.Pool
		rec  *recorder.Recorder
	)
	if cfg.Recorder.Enabled {
		pool, err = database.ConnectWithRetry(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := recorder.NewPGStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		rec = recorder.New(recorder.Config{
			Tokens:        cfg.Recorder.Tokens,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, byName[cfg.Recorder.Stream], store, logger)

		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := rec.Stop(stopCtx); err != nil {
				logger.Error("recorder stop failed", "error", err)
			}
		}()
	}

	// Health server
	deps := health.Deps{Streams: make([]health.Stream, 0, len(streams))}
	for _, m := range streams {
		deps.Streams = append(deps.Streams, m)
	}
	if pool != nil {
		deps.DB = pool
	}
	if rec != nil {
		deps.Recorder = rec.Stats
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           health.NewRouter(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	for _, m := range streams {
		m := m
		g.Go(func() error {
			watchFailures(gctx, m, logger)
			return nil
		})
	}

	logger.Info("memestream running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
		"recorder", cfg.Recorder.Enabled,
	)

	err = g.Wait()
	logger.Info("shutting down...")
	return err
}

// newLogger builds the slog handler described by the logging config.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// watchFailures logs terminal connection failures until ctx is done.
func watchFailures(ctx context.Context, m *mux.Multiplexer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-m.Failures():
			logger.Error("stream failed", "stream", m.Name(), "error", err)
		}
	}
}

func closeStreams(streams []*mux.Multiplexer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, m := range streams {
		if err := m.Close(ctx); err != nil {
			logger.Warn("stream close timed out", "stream", m.Name(), "error", err)
		}
	}
}
