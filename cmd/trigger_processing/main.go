// Command trigger_processing consumes alert trigger events from Kafka and
// records them as structured log lines and metrics.
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

	"pricealerts/internal/config"
	"pricealerts/internal/events"
	"pricealerts/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var triggersConsumed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alert_triggers_consumed_total",
		Help: "Trigger events read from Kafka, by pair and condition",
	},
	[]string{"pair", "condition"},
)

func init() {
	prometheus.MustRegister(triggersConsumed)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	group := flag.String("group", "trigger-processing-group", "Kafka consumer group")
	metricsPort := flag.String("metrics-port", "9102", "Port for /metrics")
	flag.Parse()

	if err := logger.InitLogger(logger.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	if cfg.Kafka.Brokers == "" {
		logger.Log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := events.NewKafkaConsumer(cfg.Kafka.Brokers, *group, cfg.Kafka.Topic, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + *metricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	err = consumer.Run(ctx, func(_ context.Context, ev events.TriggerEvent) error {
		triggersConsumed.WithLabelValues(ev.BaseCurrency+"/"+ev.QuoteCurrency, string(ev.ConditionType)).Inc()
		logger.Log.Info("Alert triggered",
			zap.String("event_id", ev.ID),
			zap.Int64("alert_id", ev.AlertID),
			zap.String("user_identifier", ev.UserIdentifier),
			zap.String("pair", ev.BaseCurrency+"/"+ev.QuoteCurrency),
			zap.String("condition", string(ev.ConditionType)),
			zap.Float64("target", ev.TargetPrice),
			zap.Float64("ratio", ev.Ratio),
			zap.Int("trigger_count", ev.TriggerCount),
			zap.Time("triggered_at", ev.TriggeredAt),
		)
		return nil
	})
	if err != nil {
		logger.Log.Error("Consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
