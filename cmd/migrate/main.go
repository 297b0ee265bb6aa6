package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Migrates the entries schema. Without flags it prints the current
// version; -up and -down walk the whole chain, -steps walks part of it.
func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll every migration back")
	steps := flag.Int("steps", 0, "migrate a fixed number of steps (negative rolls back)")
	dir := flag.String("dir", "migrations", "migration directory")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatal("Failed to resolve working directory", zap.Error(err))
	}

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	m, err := migrate.New(fmt.Sprintf("file://%s/%s", cwd, *dir), dbURL)
	if err != nil {
		logger.Fatal("Failed to create migration instance", zap.Error(err))
	}
	defer m.Close()

	switch {
	case *up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration up failed", zap.Error(err))
		}
		logger.Info("Migrations applied")
	case *down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration down failed", zap.Error(err))
		}
		logger.Info("Migrations rolled back")
	case *steps != 0:
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration steps failed", zap.Error(err))
		}
		logger.Info("Migration steps applied", zap.Int("steps", *steps))
	default:
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.Fatal("Failed to read migration version", zap.Error(err))
		}
		logger.Info("Current migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty))
	}
}
