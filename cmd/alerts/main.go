package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricealerts/internal/alerts"
	"pricealerts/internal/cache"
	"pricealerts/internal/config"
	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/handlers"
	"pricealerts/internal/logger"
	"pricealerts/internal/monitor"
	"pricealerts/internal/notify"
	"pricealerts/internal/price"
	"pricealerts/internal/tracing"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	port := flag.String("port", cfg.Server.Port, "Port for alerts service")
	instance := flag.String("instance", cfg.Server.Instance, "Instance ID for this server")
	dbConn := flag.String("db", cfg.Database.DSN, "Database connection string")
	flag.Parse()

	if err := logger.InitLogger(logger.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()
	log := logger.Log.With(zap.String("instance", *instance))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	store, err := database.Open(ctx, cfg.Database.Driver, *dbConn, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	hub := handlers.NewHub(log)
	publishers := events.Multi{}

	var (
		rdb    *cache.Client
		locker monitor.Locker
		browse handlers.BrowseCache
	)
	var limiter price.Limiter = price.NewLocalLimiter(float64(cfg.Prices.RatePerSecond), cfg.Prices.RatePerSecond)

	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewClient(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Instance: *instance,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		defer rdb.Close()

		limiter = price.NewRedisLimiter(rdb.Redis(), "price-api", cfg.Prices.RatePerSecond)
		locker = monitor.NewRedisLocker(rdb.Redis(), "alert-lock:", cfg.Monitor.LockTTL)
		browse = rdb
		publishers = append(publishers, events.NewRedisPublisher(rdb, events.RedisChannel))

		sub, err := rdb.Subscribe(ctx, events.RedisChannel)
		if err != nil {
			log.Fatal("Failed to subscribe to trigger events", zap.Error(err))
		}
		defer sub.Close()
		go hub.Listen(ctx, sub)
	} else {
		log.Info("Redis not configured; using in-process limiter, locks and streams")
		publishers = append(publishers, hub)
	}

	if cfg.Kafka.Brokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	var crypto price.CryptoSource = price.NewBinanceClient(cfg.Prices.BinanceURL, cfg.Prices.StableAsset, cfg.Prices.RequestTimeout, limiter)
	var fiat price.FiatSource = price.NewExchangeRateClient(cfg.Prices.ExchangeRateURL, cfg.Prices.RequestTimeout, limiter)
	if rdb != nil && cfg.Prices.CacheTTL > 0 {
		crypto = price.WithCryptoCache(crypto, rdb, cfg.Prices.CacheTTL, log)
		fiat = price.WithFiatCache(fiat, rdb, cfg.Prices.CacheTTL, log)
	}
	resolver := price.NewResolver(crypto, fiat, cfg.Prices.Fiat, cfg.Prices.StableAsset)

	dispatcher := notify.NewDispatcher(notify.Options{
		Timeout:  cfg.Notify.Timeout,
		Username: cfg.Notify.Username,
	}, log)

	service := alerts.NewService(store, resolver, dispatcher, alerts.Options{
		VerifyWebhook: cfg.Notify.VerifyWebhookOnCreate,
	}, log)

	server := handlers.NewServer(handlers.Options{
		Alerts:   service,
		Prices:   resolver,
		Hub:      hub,
		Cache:    browse,
		CacheTTL: cfg.Server.BrowseCacheTTL,
		Instance: *instance,
	}, log)
	if browse != nil {
		publishers = append(publishers, server)
	}

	mon, err := monitor.New(monitor.Config{
		Interval:          cfg.Monitor.CheckInterval,
		MinInterval:       cfg.Monitor.MinCheckInterval,
		StopTimeout:       cfg.Monitor.StopTimeout,
		RestartPause:      cfg.Monitor.RestartPause,
		ErrorBackoff:      cfg.Monitor.ErrorBackoff,
		Workers:           cfg.Monitor.Workers,
		PersistRetries:    cfg.Monitor.PersistRetries,
		PersistRetryDelay: cfg.Monitor.PersistRetryDelay,
	}, monitor.Deps{
		Store:     store,
		Prices:    resolver,
		Notifier:  dispatcher,
		Locker:    locker,
		Publisher: publishers,
	}, log)
	if err != nil {
		log.Fatal("Failed to create monitor", zap.Error(err))
	}
	server.SetMonitor(mon)

	if cfg.Monitor.AutoStart {
		if err := mon.Start(); err != nil {
			log.Fatal("Failed to start monitor", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.Routes())
	if _, err := os.Stat("./frontend"); err == nil {
		mux.Handle("/ui/", http.StripPrefix("/ui/", http.FileServer(http.Dir("./frontend"))))
	}

	httpServer := &http.Server{
		Addr:              ":" + *port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Alerts service starting", zap.String("port", *port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	if err := mon.Stop(); err != nil && !errors.Is(err, monitor.ErrNotRunning) {
		log.Warn("Monitor did not stop cleanly", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
