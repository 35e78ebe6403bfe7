package main

import (
	"context"
	"os"
	"strconv"

	"dicebet/internal/config"
	"dicebet/internal/db"
	"dicebet/internal/logger"
)

func usage() {
	logger.Fatal(context.Background()).Msg("usage: migrate up | down <steps> | status")
}

func main() {
	ctx := context.Background()
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: "console"}); err != nil {
		panic(err)
	}
	if len(os.Args) < 2 {
		usage()
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(ctx).Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	switch os.Args[1] {
	case "up":
		changed, err := db.MigrateUp(database.DB)
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("migrate up failed")
		}
		if !changed {
			logger.Info(ctx).Msg("no new migrations to apply")
			return
		}
		status, err := db.MigrateStatus(database.DB)
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("read migration status")
		}
		logger.Info(ctx).Uint("version", status.Version).Msg("migrated")
	case "down":
		if len(os.Args) < 3 {
			usage()
		}
		steps, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("invalid steps value")
		}
		if err := db.MigrateDown(database.DB, steps); err != nil {
			logger.Fatal(ctx).Err(err).Msg("migrate down failed")
		}
		logger.Info(ctx).Int("steps", steps).Msg("rolled back")
	case "status":
		status, err := db.MigrateStatus(database.DB)
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("read migration status")
		}
		if !status.Applied {
			logger.Info(ctx).Msg("no migrations have been applied yet")
			return
		}
		logger.Info(ctx).Uint("version", status.Version).Bool("dirty", status.Dirty).Msg("migration status")
	default:
		usage()
	}
}
