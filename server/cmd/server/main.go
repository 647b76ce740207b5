package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/livefeed/livefeed/server/internal/api"
	"github.com/livefeed/livefeed/server/internal/config"
	"github.com/livefeed/livefeed/server/internal/lifecycle"
	"github.com/livefeed/livefeed/server/internal/logging"
	"github.com/livefeed/livefeed/server/internal/metrics"
	"github.com/livefeed/livefeed/server/internal/mirror"
	"github.com/livefeed/livefeed/server/internal/refresher"
	"github.com/livefeed/livefeed/server/internal/store"
	"github.com/livefeed/livefeed/server/internal/stream"
	"github.com/livefeed/livefeed/server/internal/weather"
	"github.com/livefeed/livefeed/server/internal/web"
)

// warmStartTimeout bounds the initial mirror read.
const warmStartTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("livefeed-server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file; empty uses defaults plus PORT/ENV/LOG_LEVEL")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config; missing file is ignored")
	flag.Parse()

	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		slog.Warn("env file not loaded", "path", *envFile, "err", envErr)
	}

	slog.Info("livefeed-server starting",
		"config", *configPath,
		"env", cfg.Server.Env,
		"http_port", cfg.Server.HTTPPort,
		"city", cfg.Source.City,
		"interval", cfg.Refresher.Interval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	st := store.New()

	provider := weather.New(weather.Config{
		Endpoint:       cfg.Source.Endpoint,
		City:           cfg.Source.City,
		Units:          cfg.Source.Units,
		APIKey:         cfg.Source.APIKey(),
		MaxRetries:     cfg.Source.MaxRetries,
		BackoffInitial: cfg.Source.BackoffInitial,
		BackoffMax:     cfg.Source.BackoffMax,
	}, nil)
	if cfg.Source.APIKey() == "" {
		slog.Warn("no api key configured; fetches will fail until it is set", "env", cfg.Source.APIKeyEnv)
	}

	opts := []refresher.Option{
		refresher.WithFetchTimeout(cfg.Refresher.FetchTimeout),
		refresher.WithMetrics(metrics.NewRefresherMetrics(reg)),
	}
	if cfg.Mirror.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Mirror.RedisAddr})
		defer rdb.Close()

		mir := mirror.NewRedis(rdb, cfg.Mirror.Key, cfg.Mirror.TTL)
		warmStart(ctx, st, mir)
		opts = append(opts, refresher.WithMirror(mir))
	}
	ref := refresher.New(provider, st, cfg.Refresher.Interval, opts...)

	mgr := stream.New(st, stream.Config{
		PollInterval: cfg.Stream.PollInterval,
		WriteTimeout: cfg.Stream.WriteTimeout,
		MaxSessions:  cfg.Stream.MaxSessions,
		AcceptRate:   cfg.Stream.AcceptRate,
		AcceptBurst:  cfg.Stream.AcceptBurst,
	}, metrics.NewStreamMetrics(reg))

	mux := http.NewServeMux()
	mux.HandleFunc("/events", mgr.ServeSSE)
	mux.HandleFunc("/ws/stream", mgr.ServeWS)
	mux.Handle("/api/", api.New(st, ref, mgr))
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", web.Handler(cfg.Server.StaticDir))
	slog.Info("serving UI static files", "dir", cfg.Server.StaticDir)

	ctrl := lifecycle.New(mux, ref, mgr, cfg.Server.ShutdownGrace)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				ref.SetInterval(next.Refresher.Interval)
				mgr.SetPollInterval(next.Stream.PollInterval)
				logging.SetLevel(next.Log.Level)
				slog.Info("config: settings applied", "interval", ref.Interval(), "poll_interval", mgr.PollInterval(),
					"log_level", logging.Level())
			})
			if err != nil {
				slog.Warn("config: hot reload disabled", "path", *configPath, "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("livefeed-server shutting down", "signal", sig.String())
			ctrl.Stop()
		case <-ctx.Done():
		}
	}()

	if err := ctrl.Start(ctx, cfg.Server.Addr()); err != nil {
		return fmt.Errorf("livefeed-server: %w", err)
	}
	return nil
}

// warmStart publishes the mirrored snapshot, if any, so clients get the last
// known value instead of the placeholder while the first fetch runs.
func warmStart(ctx context.Context, st *store.Store, mir *mirror.Redis) {
	ctx, cancel := context.WithTimeout(ctx, warmStartTimeout)
	defer cancel()

	if err := mir.Ping(ctx); err != nil {
		slog.Warn("mirror: redis unreachable, skipping warm start", "err", err)
		return
	}

	snap, err := mir.Load(ctx)
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		slog.Info("mirror: no snapshot to restore")
	case err != nil:
		slog.Warn("mirror: warm start failed", "err", err)
	default:
		published := st.Publish(snap)
		slog.Info("mirror: restored snapshot", "fetched_at", published.FetchedAt(), "version", published.Version())
	}
}
