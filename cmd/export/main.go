package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"garagehub/internal/config"
	"garagehub/internal/database"
	"garagehub/internal/export"
	"garagehub/internal/logging"
	"garagehub/internal/models"
)

const dayLayout = "2006-01-02"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "config file")
	fromFlag := flag.String("from", "", "first day, YYYY-MM-DD")
	toFlag := flag.String("to", "", "last day (inclusive), YYYY-MM-DD")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "export").Logger()

	loc := cfg.Display.Location()
	from, to, err := parseRange(*fromFlag, *toFlag, time.Now().In(loc), loc)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The query end is exclusive of the following midnight.
	bookings, err := db.GetBookingsByDateRange(ctx, from, to.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}

	dir := cfg.Exports.Path
	if dir == "" {
		dir = "."
	}
	path, err := export.SaveBookings(dir, from, to, bookings, loc)
	if err != nil {
		return err
	}

	logger.Info().Str("path", path).Int("bookings", len(bookings)).Msg("export written")
	return nil
}

// parseRange returns the first and last export day at midnight in loc.
func parseRange(fromRaw, toRaw string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	from := today.AddDate(0, 0, -models.DefaultExportRangeDays)
	to := today

	var err error
	if fromRaw != "" {
		if from, err = time.ParseInLocation(dayLayout, fromRaw, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if toRaw != "" {
		if to, err = time.ParseInLocation(dayLayout, toRaw, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to %s is before -from %s", to.Format(dayLayout), from.Format(dayLayout))
	}
	return from, to, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
