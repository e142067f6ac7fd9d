package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appshare1603/VanLive/internal/auth"
	"github.com/appshare1603/VanLive/internal/config"
	"github.com/appshare1603/VanLive/internal/logger"
	"github.com/appshare1603/VanLive/internal/pipeline"
	"github.com/appshare1603/VanLive/internal/store"
	httptransport "github.com/appshare1603/VanLive/internal/transport/http"
	"github.com/appshare1603/VanLive/internal/transport/mqtt"
	"github.com/appshare1603/VanLive/internal/weather"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("vanlive exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("vanlive", cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Thresholds: env defaults, then optional file overrides.
	thresholds, err := pipeline.NewThresholdSet(cfg.Thresholds())
	if err != nil {
		return err
	}
	if cfg.ThresholdsFile != "" {
		file, err := config.LoadThresholdsFile(cfg.ThresholdsFile, cfg.Thresholds())
		if err != nil {
			return err
		}
		defaults, _ := cfg.Thresholds().With(file.Defaults)
		if err := thresholds.SetDefaults(defaults); err != nil {
			return err
		}
		if err := thresholds.SetOverrides(pipeline.SourceFile, file.Vehicles); err != nil {
			return err
		}
		log.Info("thresholds file loaded", "path", cfg.ThresholdsFile, "vehicles", len(file.Vehicles))
	}

	health := make(map[string]httptransport.HealthCheck)

	var redisStore *store.RedisStore
	if cfg.RedisEnabled {
		redisStore, err = store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		health["redis"] = redisStore.Ping
		log.Info("redis connected", "addr", cfg.RedisAddr)
	}

	var thresholdRepo *store.ThresholdRepository
	if cfg.ThresholdsDBEnabled {
		db, err := store.OpenPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		thresholdRepo = store.NewThresholdRepository(db)
		defer thresholdRepo.Close()
		health["postgres"] = thresholdRepo.Ping
		log.Info("postgres connected", "host", cfg.DBHost, "db", cfg.DBName)
	}

	ring, err := store.NewRingStore(cfg.RingCapacity)
	if err != nil {
		return err
	}
	dispatcher := pipeline.NewDispatcher(cfg.SubscriberQueueSize, log)
	defer dispatcher.Close()
	evaluator := pipeline.NewAlertEvaluator(thresholds)

	var weatherSource pipeline.WeatherSource
	var poller *weather.Poller
	if cfg.WeatherEnabled {
		provider, err := weather.NewOpenMeteoProvider(cfg.WeatherBaseURL, cfg.WeatherLatitude, cfg.WeatherLongitude,
			&http.Client{Timeout: cfg.WeatherTimeout})
		if err != nil {
			return err
		}
		cache := weather.NewCache(cfg.WeatherMaxAge)
		weatherSource = cache
		poller = weather.NewPoller(provider, cache, cfg.WeatherRefreshInterval, log)
	}

	ingestor := pipeline.NewIngestor(ring, evaluator, dispatcher, weatherSource, log)
	query := pipeline.NewQuery(ring, evaluator, cfg.PollInterval)

	var authMW *httptransport.AuthMiddleware
	if cfg.AuthEnabled {
		var lookup auth.KeyLookup
		if redisStore != nil {
			lookup = redisStore
		}
		authMW = httptransport.NewAuthMiddleware(
			auth.NewAuthenticator(cfg.ValidAPIKeys, lookup, time.Duration(cfg.AuthCacheTTLSeconds)*time.Second))
	}

	var limiter httptransport.RateLimiter
	if redisStore != nil {
		limiter = httptransport.NewRedisRateLimiter(redisStore.Client(), log)
	}

	router := httptransport.NewRouter(httptransport.Options{
		Ingestor:           ingestor,
		Query:              query,
		Dispatcher:         dispatcher,
		Auth:               authMW,
		Limiter:            limiter,
		Logger:             log,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		WriteTimeout:       cfg.WriteTimeout,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HealthChecks:       health,
	})

	// No server-wide WriteTimeout: push streams are long-lived and bound
	// each write themselves.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// release push subscribers so their handlers return before Shutdown waits on them
		dispatcher.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	if poller != nil {
		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
	}
	if thresholdRepo != nil {
		refresher := pipeline.NewThresholdRefresher(thresholdRepo, thresholds, cfg.ThresholdRefreshInterval, log)
		g.Go(func() error {
			refresher.Run(gctx)
			return nil
		})
	}

	if cfg.MQTTEnabled {
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Timeout:  cfg.MQTTTimeout,
		}, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer client.Disconnect()

		sub, err := mqtt.NewSubscriber(client, mqtt.SubscriberConfig{
			Topic:       cfg.MQTTTopic,
			QoS:         cfg.MQTTQoS,
			ChannelSize: cfg.MQTTChannelSize,
			Workers:     cfg.MQTTWorkers,
		}, ingestor, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("vanlive stopped")
	return err
}
