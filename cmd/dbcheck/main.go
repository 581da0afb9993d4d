package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pricealerts/internal/config"
	"pricealerts/internal/database"
	"pricealerts/internal/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	driver := flag.String("driver", cfg.Database.Driver, "Database driver (postgres or sqlite)")
	dsn := flag.String("db", cfg.Database.DSN, "Database connection string")
	migrate := flag.Bool("migrate", false, "Apply the alerts schema after connecting")
	flag.Parse()

	log, err := logger.New(logger.Options{Level: cfg.Logging.Level, Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := database.Open(ctx, *driver, *dsn, log)
	if err != nil {
		log.Fatal("Database connection failed", zap.Error(err))
	}
	defer store.Close()

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
		log.Info("Schema is up to date")
	}

	stats, err := store.Stats(ctx, "")
	if err != nil {
		log.Fatal("Alerts table is not readable", zap.Error(err))
	}
	log.Info("Successfully connected to the database",
		zap.String("driver", store.Driver()),
		zap.Int("alerts", stats.Total),
		zap.Int("active", stats.Active),
		zap.Int("triggered", stats.Triggered),
	)
}
