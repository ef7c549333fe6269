package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/config"
	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/infrastructure/cache"
	"github.com/flashcur/marketpulse/internal/infrastructure/feed"
	"github.com/flashcur/marketpulse/internal/infrastructure/logger"
	"github.com/flashcur/marketpulse/internal/infrastructure/notify"
	"github.com/flashcur/marketpulse/internal/infrastructure/queue"
	"github.com/flashcur/marketpulse/internal/infrastructure/storage"
	"github.com/flashcur/marketpulse/internal/monitoring"
	"github.com/flashcur/marketpulse/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite store", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Queue
	jobQueue, err := queue.NewSQLiteQueue(cfg.Queue.Path, queue.Options{
		Lease:       cfg.Queue.Lease(),
		MaxAttempts: cfg.Queue.MaxAttempts,
		RetryBase:   cfg.Queue.RetryBase(),
	})
	if err != nil {
		log.Fatal("Failed to init job queue", zap.Error(err))
	}
	defer jobQueue.Close()

	// 5. Init Redis (latest-snapshot cache + tier broadcast pub/sub)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	snapshotCache := cache.NewRedisCache(redisClient, cfg.Redis.ChannelPrefix+":latest", cfg.Redis.CacheTTL())
	publisher := cache.NewRedisPublisher(redisClient)

	health := monitoring.NewHealth()

	// 6. Core pipeline: feed -> normalizer -> history -> detector -> queue
	history := usecase.NewHistory(cfg.History.WindowSize, cfg.History.Retention())
	detector := usecase.NewDetector(history, cfg.Detector.Threshold, cfg.Detector.MinQuoteVolume)
	normalizer := usecase.NewNormalizer(cfg.Feed.QuoteSuffix, cfg.Detector.MinQuoteVolume)

	client := feed.NewClient(cfg.Feed.URL, cfg.Feed.Heartbeat(), feed.RetryPolicy{
		Base:        cfg.Feed.ReconnectBase(),
		Max:         cfg.Feed.ReconnectMax(),
		MaxAttempts: cfg.Feed.ReconnectAttempts,
	}, cfg.Feed.BufferSize, log)

	broadcaster := usecase.NewBroadcaster(publisher, cfg.Redis.ChannelPrefix, tierConfigs(cfg), cfg.Broadcast.EliteDebounce(), log)

	pipeline := usecase.NewPipeline(client.Messages(), normalizer, history, detector,
		jobQueue, store, snapshotCache, broadcaster, health, log)

	// 7. Workers: spike fan-out and notification delivery
	dispatcher := usecase.NewDispatcher(store, jobQueue, buildChannels(cfg, log), cfg.Detector.Threshold, log)

	pool := usecase.NewPool(jobQueue, cfg.Queue.PollInterval(), log)
	pool.Handle(domain.JobDetectSpike, cfg.Queue.SpikeWorkers, dispatcher.HandleDetectSpike)
	pool.Handle(domain.JobNotify, cfg.Queue.NotifyWorkers, dispatcher.HandleNotify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. Ops surface
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(3*cfg.Feed.Heartbeat()))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: mux}
	go func() {
		log.Info("ops server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", zap.Error(err))
		}
	}()

	// 9. Start everything
	pool.Start(ctx)
	go broadcaster.Run(ctx)

	feedDone := make(chan error, 1)
	go func() { feedDone <- client.Run(ctx) }()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		pipeline.Run(ctx)
	}()

	// 10. Wait for shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-feedDone:
		if err != nil {
			health.RecordError(err)
			log.Error("feed terminated", zap.Error(err))
		}
	}

	// Stop the feed first; the pipeline drains the closed message channel,
	// then the workers get a bounded window to finish in-flight jobs.
	cancel()
	select {
	case <-pipelineDone:
	case <-time.After(5 * time.Second):
		log.Warn("pipeline did not drain in time")
	}
	pool.Drain(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Info("engine stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	}
	return logger.NewLogger(cfg.Logging.Level)
}

func tierConfigs(cfg *config.Config) []domain.TierConfig {
	return []domain.TierConfig{
		{Tier: domain.TierElite, Cadence: 0, RowLimit: 0},
		{Tier: domain.TierPro, Cadence: cfg.Broadcast.ProCadence(), RowLimit: cfg.Broadcast.ProRowLimit},
		{Tier: domain.TierFree, Cadence: cfg.Broadcast.FreeCadence(), RowLimit: cfg.Broadcast.FreeRowLimit},
	}
}

func buildChannels(cfg *config.Config, log *zap.Logger) []domain.Channel {
	var channels []domain.Channel
	if cfg.Channels.Email.Enabled {
		channels = append(channels, notify.NewEmailChannel(
			cfg.Channels.Email.Endpoint, cfg.Channels.Email.APIKey, cfg.Channels.Email.From, log))
	}
	if cfg.Channels.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookChannel(
			time.Duration(cfg.Channels.Webhook.TimeoutSec)*time.Second, log))
	}
	if cfg.Channels.SMS.Enabled {
		channels = append(channels, notify.NewSMSChannel(
			cfg.Channels.SMS.AccountSID, cfg.Channels.SMS.AuthToken,
			cfg.Channels.SMS.From, cfg.Channels.SMS.BaseURL, log))
	}
	return channels
}
